package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const webhookHTTPTimeout = 30 * time.Second

// GroupFallbackResolver looks up the webhook fallback configuration for a
// normalized group chat id. Source names the backing configuration file for
// user-facing error messages.
type GroupFallbackResolver interface {
	ResolveWebhook(chatID string) (string, bool)
	Source() string
}

// webhookMessage is one message posted to a group webhook. ImageKey, when
// set, embeds an already-uploaded platform image in the card.
type webhookMessage struct {
	WebhookURL string
	Text       string
	Mentions   []string
	ImageKey   string
}

// webhookSender posts interactive-card messages to group webhook endpoints.
// The transport always speaks "interactive", even for plain text: custom-bot
// webhooks render markdown cards consistently across clients.
type webhookSender struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func newWebhookSender(ratePerMinute int, log *slog.Logger) *webhookSender {
	if ratePerMinute <= 0 {
		ratePerMinute = 100
	}
	return &webhookSender{
		httpClient: &http.Client{Timeout: webhookHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute),
		logger:     log.With(slog.String("component", "webhook")),
	}
}

// Send posts msg as an interactive card. Transport failures and non-zero
// application codes collapse into a single error; the caller decides whether
// another delivery path remains.
func (s *webhookSender) Send(ctx context.Context, msg webhookMessage) error {
	url := strings.TrimSpace(msg.WebhookURL)
	if url == "" {
		return fmt.Errorf("webhook url is required")
	}
	payload, err := json.Marshal(buildCardPayload(msg))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("parse webhook response: %w", err)
	}
	if body.Code != 0 {
		if strings.TrimSpace(body.Msg) != "" {
			return fmt.Errorf("webhook send failed: %s (code: %d)", body.Msg, body.Code)
		}
		return fmt.Errorf("webhook send failed (code: %d)", body.Code)
	}
	s.logger.Debug("webhook send success", slog.String("url", url))
	return nil
}

// buildCardPayload wraps the message in the interactive-card envelope.
func buildCardPayload(msg webhookMessage) map[string]any {
	elements := make([]map[string]any, 0, 2)
	if key := strings.TrimSpace(msg.ImageKey); key != "" {
		elements = append(elements, map[string]any{
			"tag":     "img",
			"img_key": key,
			"alt": map[string]any{
				"tag":     "plain_text",
				"content": "",
			},
		})
		if content := renderMentions(msg.Text, msg.Mentions); strings.TrimSpace(content) != "" {
			elements = append(elements, markdownElement(content))
		}
	} else {
		elements = append(elements, markdownElement(renderMentions(msg.Text, msg.Mentions)))
	}
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"config": map[string]any{
				"wide_screen_mode": true,
			},
			"elements": elements,
		},
	}
}

func markdownElement(content string) map[string]any {
	return map[string]any{
		"tag":     "markdown",
		"content": content,
	}
}

// renderMentions prepends card at-markup for each mention. The literal "all"
// mentions the whole group. Text without mentions passes through untouched.
func renderMentions(text string, mentions []string) string {
	if len(mentions) == 0 {
		return text
	}
	tags := make([]string, 0, len(mentions))
	for _, mention := range mentions {
		mention = strings.TrimSpace(mention)
		if mention == "" {
			continue
		}
		tags = append(tags, fmt.Sprintf("<at id=%s></at>", mention))
	}
	if len(tags) == 0 {
		return text
	}
	markup := strings.Join(tags, " ")
	if strings.TrimSpace(text) == "" {
		return markup
	}
	return markup + " " + text
}
