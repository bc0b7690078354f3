package feishu

import "strings"

// quotaErrCode is the platform error code for exceeded message quotas.
const quotaErrCode = "99991403"

// isQuotaError reports whether err represents a rate/quota condition that
// warrants a fallback delivery path. Errors from the lark client surface as
// "msg (code: N)" strings rather than a structured type, so detection is a
// text predicate. A false negative skips fallback; a false positive costs one
// extra webhook attempt. Both are safe.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "429") || strings.Contains(text, quotaErrCode) {
		return true
	}
	return strings.Contains(text, "quota") || strings.Contains(text, "rate limit")
}
