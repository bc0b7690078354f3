package feishu

import (
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
)

const (
	regionFeishu = "feishu"
	regionLark   = "lark"
)

func openBaseURL(region string) string {
	if strings.ToLower(strings.TrimSpace(region)) == regionLark {
		return lark.LarkBaseUrl
	}
	return lark.FeishuBaseUrl
}

// normalizeTarget rewrites a raw delivery target into the canonical
// "<receive_id_type>:<id>" form. All fallback lookups key on this form,
// never on the raw string.
func normalizeTarget(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "open_id:") || strings.HasPrefix(value, "user_id:") || strings.HasPrefix(value, "chat_id:") {
		return value
	}
	if strings.HasPrefix(value, "ou_") {
		return "open_id:" + value
	}
	if strings.HasPrefix(value, "oc_") {
		return "chat_id:" + value
	}
	return "open_id:" + value
}

// resolveReceiveID splits a normalized target into the lark receive id and
// receive id type.
func resolveReceiveID(raw string) (string, string, error) {
	value := normalizeTarget(raw)
	if value == "" {
		return "", "", fmt.Errorf("feishu target is required")
	}
	idType, id, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", "", fmt.Errorf("invalid feishu target: %s", raw)
	}
	return strings.TrimSpace(id), idType, nil
}
