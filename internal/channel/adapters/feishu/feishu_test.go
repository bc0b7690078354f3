package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"larkcourier/internal/channel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quotaErr() error {
	return errors.New("feishu send message failed: too many requests (code: 99991403)")
}

type fakeMessagingGateway struct {
	textCalls   []struct{ receiveID, receiveType, text string }
	mediaCalls  []struct{ receiveID, receiveType, mediaURL string }
	uploadCalls int
	addCalls    []struct{ messageID, reactionType string }
	deleteCalls []struct{ messageID, reactionID string }

	textErr    error
	mediaErr   error
	uploadErr  error
	uploadKey  string
	addErr     error
	reactionID string
	deleteErr  error
}

func (g *fakeMessagingGateway) SendText(ctx context.Context, receiveID, receiveType, text string) (string, string, error) {
	g.textCalls = append(g.textCalls, struct{ receiveID, receiveType, text string }{receiveID, receiveType, text})
	if g.textErr != nil {
		return "", "", g.textErr
	}
	return "om_text", "oc_resolved", nil
}

func (g *fakeMessagingGateway) SendMedia(ctx context.Context, receiveID, receiveType, mediaURL string) (string, string, error) {
	g.mediaCalls = append(g.mediaCalls, struct{ receiveID, receiveType, mediaURL string }{receiveID, receiveType, mediaURL})
	if g.mediaErr != nil {
		return "", "", g.mediaErr
	}
	return "om_media", "oc_resolved", nil
}

func (g *fakeMessagingGateway) UploadImage(ctx context.Context, data []byte) (string, error) {
	g.uploadCalls++
	if g.uploadErr != nil {
		return "", g.uploadErr
	}
	if g.uploadKey != "" {
		return g.uploadKey, nil
	}
	return "img_key_default", nil
}

func (g *fakeMessagingGateway) AddReaction(ctx context.Context, messageID, reactionType string) (string, error) {
	g.addCalls = append(g.addCalls, struct{ messageID, reactionType string }{messageID, reactionType})
	if g.addErr != nil {
		return "", g.addErr
	}
	if g.reactionID != "" {
		return g.reactionID, nil
	}
	return "reaction-default", nil
}

func (g *fakeMessagingGateway) DeleteReaction(ctx context.Context, messageID, reactionID string) error {
	g.deleteCalls = append(g.deleteCalls, struct{ messageID, reactionID string }{messageID, reactionID})
	return g.deleteErr
}

type fakeFallbacks struct {
	urls map[string]string
}

func (f *fakeFallbacks) ResolveWebhook(chatID string) (string, bool) {
	url, ok := f.urls[chatID]
	return url, ok
}

func (f *fakeFallbacks) Source() string { return "webhooks.yaml" }

// webhookRecorder captures interactive-card payloads posted to a fake
// webhook endpoint.
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	code     int
	status   int
}

func newWebhookRecorder() *webhookRecorder {
	return &webhookRecorder{status: http.StatusOK}
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)
		r.mu.Lock()
		r.payloads = append(r.payloads, payload)
		code := r.code
		status := r.status
		r.mu.Unlock()
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": ""})
	}
}

func (r *webhookRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *webhookRecorder) last(t *testing.T) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		t.Fatalf("no webhook payloads recorded")
	}
	return r.payloads[len(r.payloads)-1]
}

// cardElements digs the elements array out of a recorded card payload.
func cardElements(t *testing.T, payload map[string]any) []map[string]any {
	t.Helper()
	card, ok := payload["card"].(map[string]any)
	if !ok {
		t.Fatalf("payload has no card: %v", payload)
	}
	raw, ok := card["elements"].([]any)
	if !ok {
		t.Fatalf("card has no elements: %v", card)
	}
	elements := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		element, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("element is not an object: %v", item)
		}
		elements = append(elements, element)
	}
	return elements
}

func newTestAdapter(gateway messagingGateway, fallbacks GroupFallbackResolver) *Adapter {
	log := testLogger()
	webhook := newWebhookSender(6000, log)
	media := newMediaDelivery(gateway, webhook, fallbacks, log)
	return &Adapter{
		gateway:   gateway,
		webhook:   webhook,
		fallbacks: fallbacks,
		media:     media,
		typing:    newTypingTracker(gateway, webhook, fallbacks, log),
		logger:    log,
	}
}

func TestNormalizeTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{raw: "open_id:ou_123", want: "open_id:ou_123"},
		{raw: "user_id:uu_123", want: "user_id:uu_123"},
		{raw: "chat_id:oc_123", want: "chat_id:oc_123"},
		{raw: "ou_999", want: "open_id:ou_999"},
		{raw: "oc_999", want: "chat_id:oc_999"},
		{raw: "someone", want: "open_id:someone"},
		{raw: "  oc_777  ", want: "chat_id:oc_777"},
		{raw: "", want: ""},
	}
	for _, tc := range cases {
		if got := normalizeTarget(tc.raw); got != tc.want {
			t.Fatalf("normalizeTarget(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResolveReceiveID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw       string
		wantID    string
		wantType  string
		shouldErr bool
	}{
		{raw: "open_id:ou_123", wantID: "ou_123", wantType: "open_id"},
		{raw: "user_id:uu_123", wantID: "uu_123", wantType: "user_id"},
		{raw: "chat_id:oc_123", wantID: "oc_123", wantType: "chat_id"},
		{raw: "ou_999", wantID: "ou_999", wantType: "open_id"},
		{raw: "", shouldErr: true},
		{raw: "chat_id:", shouldErr: true},
	}
	for _, tc := range cases {
		id, idType, err := resolveReceiveID(tc.raw)
		if tc.shouldErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.raw, err)
		}
		if id != tc.wantID || idType != tc.wantType {
			t.Fatalf("unexpected result for %q: %s %s", tc.raw, id, idType)
		}
	}
}

func TestAdapterSendText(t *testing.T) {
	t.Parallel()

	gateway := &fakeMessagingGateway{}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	result, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "ou_123",
		Message: channel.Message{Text: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessageID != "om_text" || result.Status != channel.DeliveryDelivered {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ChatID != "oc_resolved" {
		t.Fatalf("unexpected chat id: %s", result.ChatID)
	}
	if len(gateway.textCalls) != 1 || gateway.textCalls[0].receiveID != "ou_123" {
		t.Fatalf("unexpected gateway calls: %+v", gateway.textCalls)
	}
}

func TestAdapterSendTextQuotaFallsBackToWebhook(t *testing.T) {
	t.Parallel()

	recorder := newWebhookRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	gateway := &fakeMessagingGateway{textErr: quotaErr()}
	fallbacks := &fakeFallbacks{urls: map[string]string{"oc_123": server.URL}}
	adapter := newTestAdapter(gateway, fallbacks)

	result, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "chat_id:oc_123",
		Message: channel.Message{Text: "quota test", Mentions: []string{"ou_user"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessageID != channel.WebhookSentMessageID {
		t.Fatalf("expected webhook sentinel message id, got %s", result.MessageID)
	}
	if result.Status != channel.DeliveryDegraded {
		t.Fatalf("expected degraded status, got %s", result.Status)
	}
	elements := cardElements(t, recorder.last(t))
	if len(elements) != 1 || elements[0]["tag"] != "markdown" {
		t.Fatalf("unexpected card elements: %v", elements)
	}
	content, _ := elements[0]["content"].(string)
	if !strings.Contains(content, "<at id=ou_user></at>") || !strings.Contains(content, "quota test") {
		t.Fatalf("unexpected card content: %q", content)
	}
}

func TestAdapterSendTextQuotaWithoutWebhookFails(t *testing.T) {
	t.Parallel()

	gateway := &fakeMessagingGateway{textErr: quotaErr()}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	_, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "chat_id:oc_123",
		Message: channel.Message{Text: "hi"},
	})
	if err == nil {
		t.Fatalf("expected quota error to surface")
	}
	if !isQuotaError(err) {
		t.Fatalf("expected quota error, got: %v", err)
	}
}

func TestAdapterSendTextThenMedia(t *testing.T) {
	t.Parallel()

	gateway := &fakeMessagingGateway{}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	result, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target: "ou_123",
		Message: channel.Message{
			Text:     "see attached",
			MediaURL: "https://example.com/pic.png",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Text goes first, the reported result is the media send's.
	if len(gateway.textCalls) != 1 || gateway.textCalls[0].text != "see attached" {
		t.Fatalf("unexpected text calls: %+v", gateway.textCalls)
	}
	if len(gateway.mediaCalls) != 1 || result.MessageID != "om_media" {
		t.Fatalf("unexpected media outcome: %+v", result)
	}
}

func TestAdapterSendMediaConfigErrorSurfaces(t *testing.T) {
	t.Parallel()

	gateway := &fakeMessagingGateway{mediaErr: quotaErr()}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	_, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "chat_id:oc_456",
		Message: channel.Message{MediaURL: "https://example.com/pic.png"},
	})
	if !errors.Is(err, ErrWebhookNotConfigured) {
		t.Fatalf("expected ErrWebhookNotConfigured, got: %v", err)
	}
	// No degraded text resend on configuration problems.
	if len(gateway.textCalls) != 0 {
		t.Fatalf("unexpected text sends: %+v", gateway.textCalls)
	}
}

func TestAdapterSendMediaNonQuotaFailureResendsLink(t *testing.T) {
	t.Parallel()

	gateway := &fakeMessagingGateway{mediaErr: errors.New("feishu send message failed: internal error (code: 500100)")}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	result, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "ou_123",
		Message: channel.Message{MediaURL: "https://example.com/report.pdf"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != channel.DeliveryDegraded {
		t.Fatalf("expected degraded status, got %s", result.Status)
	}
	if len(gateway.textCalls) != 1 || gateway.textCalls[0].text != "https://example.com/report.pdf" {
		t.Fatalf("unexpected link resend: %+v", gateway.textCalls)
	}
}

func TestAdapterSendMediaLinkResendAlsoFails(t *testing.T) {
	t.Parallel()

	mediaErr := errors.New("feishu send message failed: internal error (code: 500100)")
	gateway := &fakeMessagingGateway{
		mediaErr: mediaErr,
		textErr:  errors.New("feishu send message failed: still broken (code: 500100)"),
	}
	adapter := newTestAdapter(gateway, &fakeFallbacks{})

	_, err := adapter.Send(context.Background(), channel.OutboundMessage{
		Target:  "ou_123",
		Message: channel.Message{MediaURL: "https://example.com/report.pdf"},
	})
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("expected original media error, got: %v", err)
	}
}
