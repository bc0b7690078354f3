// Package channel defines the channel-neutral message model shared by the
// delivery adapters and the HTTP surface.
package channel

import (
	"context"
	"strings"
)

// ChannelType identifies a messaging platform (e.g., "feishu").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Message is the outbound message content.
type Message struct {
	Text     string   `json:"text,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	MediaURL string   `json:"media_url,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.MediaURL) == ""
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// WebhookSentMessageID is the sentinel message id reported when a message was
// delivered out-of-band through a group webhook and no platform message id
// exists.
const WebhookSentMessageID = "webhook-sent"

// DeliveryStatus tags how a send request ultimately completed.
type DeliveryStatus string

const (
	// DeliveryDelivered means the primary platform API accepted the message.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryDegraded means a fallback path produced a reduced but visible
	// message (webhook card, re-hosted image, or plain link).
	DeliveryDegraded DeliveryStatus = "degraded"
	// DeliverySuppressed means a best-effort action was intentionally skipped
	// (typing indicators only; never message content).
	DeliverySuppressed DeliveryStatus = "suppressed"
)

// SendResult is the uniform outcome returned to the host dispatch for both
// text and media sends.
type SendResult struct {
	Channel   ChannelType    `json:"channel"`
	MessageID string         `json:"message_id"`
	ChatID    string         `json:"chat_id"`
	Status    DeliveryStatus `json:"status,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Degraded reports whether the result came from a fallback path.
func (r SendResult) Degraded() bool {
	return r.Status == DeliveryDegraded
}

// TypingState records how a typing indicator was placed on a message.
// ReactionID is set only when the indicator went through the primary API;
// webhook acknowledgments cannot be removed and carry no reaction id.
type TypingState struct {
	MessageID   string `json:"message_id"`
	ReactionID  string `json:"reaction_id,omitempty"`
	UsedWebhook bool   `json:"used_webhook,omitempty"`
}

// Sender delivers an outbound message and reports the uniform result.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

// TypingNotifier places and clears ephemeral typing indicators. Both
// operations are best-effort: failures are absorbed, never returned.
type TypingNotifier interface {
	AddTypingIndicator(ctx context.Context, messageID, chatID string) TypingState
	RemoveTypingIndicator(ctx context.Context, state TypingState)
}
