package feishu

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"larkcourier/internal/channel"
)

const (
	typingReactionType = "Typing"
	// typingAckGlyph is posted through the group webhook when the reaction
	// API is quota-limited. Webhook messages cannot be removed later.
	typingAckGlyph = "👀"
)

// sentRegistry tracks message ids whose typing indicator was delivered.
// An id enters the registry at most once per process lifetime and is only
// removed when the send it guarded ultimately failed, so failed attempts stay
// retryable while successful ones are permanently suppressed.
type sentRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSentRegistry() *sentRegistry {
	return &sentRegistry{ids: map[string]struct{}{}}
}

// begin claims the id, returning false when it was already claimed.
// Claiming before the network call closes the window where two concurrent
// adds for the same message both pass the check.
func (r *sentRegistry) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// forget releases a claim after a failed send.
func (r *sentRegistry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

func (r *sentRegistry) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// typingTracker places and clears the ephemeral "typing" marker on inbound
// messages. Every failure mode here is non-fatal: indicator problems must
// never block message delivery.
type typingTracker struct {
	gateway   messagingGateway
	webhook   *webhookSender
	fallbacks GroupFallbackResolver
	registry  *sentRegistry
	logger    *slog.Logger
}

func newTypingTracker(gateway messagingGateway, webhook *webhookSender, fallbacks GroupFallbackResolver, log *slog.Logger) *typingTracker {
	return &typingTracker{
		gateway:   gateway,
		webhook:   webhook,
		fallbacks: fallbacks,
		registry:  newSentRegistry(),
		logger:    log.With(slog.String("component", "typing")),
	}
}

// Add attaches a typing reaction to messageID. The first successful add per
// message wins; later calls are no-ops with no network traffic. On quota
// errors it degrades to a webhook glyph when the chat has a webhook
// configured; any other failure is absorbed and leaves the message retryable.
func (t *typingTracker) Add(ctx context.Context, messageID, chatID string) channel.TypingState {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return channel.TypingState{}
	}
	state := channel.TypingState{MessageID: messageID}
	if !t.registry.begin(messageID) {
		return state
	}
	reactionID, err := t.gateway.AddReaction(ctx, messageID, typingReactionType)
	if err == nil {
		state.ReactionID = reactionID
		return state
	}
	chatID = strings.TrimSpace(chatID)
	if isQuotaError(err) && chatID != "" {
		if webhookURL, ok := t.fallbacks.ResolveWebhook(chatID); ok {
			if hookErr := t.webhook.Send(ctx, webhookMessage{WebhookURL: webhookURL, Text: typingAckGlyph}); hookErr == nil {
				state.UsedWebhook = true
				return state
			} else {
				t.logger.Warn("typing webhook fallback failed",
					slog.String("message_id", messageID),
					slog.String("chat_id", chatID),
					slog.Any("error", hookErr),
				)
			}
		}
	}
	// Failed sends do not suppress future attempts.
	t.registry.forget(messageID)
	t.logger.Debug("typing indicator suppressed",
		slog.String("message_id", messageID),
		slog.Any("error", err),
	)
	return state
}

// Remove clears a previously added reaction. Webhook acknowledgments and
// never-added indicators carry no reaction id and are no-ops. Deletion
// failures are swallowed; cleanup is best-effort.
func (t *typingTracker) Remove(ctx context.Context, state channel.TypingState) {
	reactionID := strings.TrimSpace(state.ReactionID)
	if reactionID == "" {
		return
	}
	if err := t.gateway.DeleteReaction(ctx, strings.TrimSpace(state.MessageID), reactionID); err != nil {
		t.logger.Debug("typing indicator cleanup failed",
			slog.String("message_id", state.MessageID),
			slog.Any("error", err),
		)
	}
}
