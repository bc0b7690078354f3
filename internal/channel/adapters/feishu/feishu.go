package feishu

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"larkcourier/internal/channel"
	"larkcourier/internal/config"
)

const Type channel.ChannelType = "feishu"

// Feishu truncates text messages past roughly 150KB; chunk well below that
// so markdown blocks survive intact.
const textChunkLimit = 4000

// Adapter delivers outbound messages to Feishu/Lark, degrading to group
// webhooks when the tenant's Open API quota is exhausted.
type Adapter struct {
	gateway   messagingGateway
	webhook   *webhookSender
	fallbacks GroupFallbackResolver
	media     *mediaDelivery
	typing    *typingTracker
	logger    *slog.Logger
}

func NewAdapter(cfg config.FeishuConfig, fallback config.FallbackConfig, fallbacks GroupFallbackResolver, log *slog.Logger) *Adapter {
	log = log.With(slog.String("adapter", "feishu"))
	gateway := newLarkGateway(cfg.AppID, cfg.AppSecret, cfg.Region)
	webhook := newWebhookSender(fallback.WebhookRatePerMinute, log)
	return &Adapter{
		gateway:   gateway,
		webhook:   webhook,
		fallbacks: fallbacks,
		media:     newMediaDelivery(gateway, webhook, fallbacks, log),
		typing:    newTypingTracker(gateway, webhook, fallbacks, log),
		logger:    log,
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Send delivers msg to its target, preferring the Open API and falling back
// to the group's webhook on quota exhaustion. Media failures after the
// primary attempt degrade to a plain link rather than dropping the message.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) (channel.SendResult, error) {
	target := normalizeTarget(msg.Target)
	receiveID, _, err := resolveReceiveID(target)
	if err != nil {
		return channel.SendResult{}, err
	}
	chatID := ""
	if strings.HasPrefix(target, "chat_id:") {
		chatID = receiveID
	}

	mediaURL := strings.TrimSpace(msg.Message.MediaURL)
	if mediaURL == "" {
		return a.sendText(ctx, target, chatID, msg.Message.Text, msg.Message.Mentions)
	}
	// Combined requests deliver the text first, best-effort: a text failure
	// does not stop the media attempt, and the reported outcome is the
	// media delivery's.
	if strings.TrimSpace(msg.Message.Text) != "" {
		if _, err := a.sendText(ctx, target, chatID, msg.Message.Text, msg.Message.Mentions); err != nil {
			a.logger.Warn("text send before media failed",
				slog.String("target", target),
				slog.Any("error", err),
			)
		}
	}
	return a.sendMedia(ctx, target, chatID, mediaURL, msg.Message.Mentions)
}

func (a *Adapter) sendMedia(ctx context.Context, target, chatID, mediaURL string, mentions []string) (channel.SendResult, error) {
	result, err := a.media.Deliver(ctx, target, chatID, mediaURL, mentions)
	if err == nil {
		return result, nil
	}
	// Missing fallback configuration is an operator problem; surface it
	// rather than papering over it with a link.
	if errors.Is(err, ErrWebhookNotConfigured) {
		return channel.SendResult{}, err
	}
	a.logger.Warn("media delivery failed, resending as link",
		slog.String("target", target),
		slog.Any("error", err),
	)
	linkResult, linkErr := a.sendText(ctx, target, chatID, mediaURL, nil)
	if linkErr != nil {
		return channel.SendResult{}, err
	}
	linkResult.Status = channel.DeliveryDegraded
	linkResult.Reason = "media delivery failed, sent link instead"
	return linkResult, nil
}

func (a *Adapter) sendText(ctx context.Context, target, chatID, text string, mentions []string) (channel.SendResult, error) {
	receiveID, receiveType, err := resolveReceiveID(target)
	if err != nil {
		return channel.SendResult{}, err
	}

	chunks := channel.ChunkMarkdownText(text, textChunkLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	result := channel.SendResult{Channel: Type, ChatID: chatID, Status: channel.DeliveryDelivered}
	for _, chunk := range chunks {
		messageID, respChatID, sendErr := a.gateway.SendText(ctx, receiveID, receiveType, chunk)
		if sendErr == nil {
			result.MessageID = messageID
			if respChatID != "" {
				result.ChatID = respChatID
			}
			continue
		}
		if !isQuotaError(sendErr) {
			return channel.SendResult{}, sendErr
		}
		hookChatID := result.ChatID
		if hookChatID == "" {
			hookChatID = receiveID
		}
		webhookURL, ok := a.fallbacks.ResolveWebhook(hookChatID)
		if !ok {
			return channel.SendResult{}, sendErr
		}
		a.logger.Info("quota exhausted, sending via webhook",
			slog.String("chat_id", hookChatID),
		)
		if hookErr := a.webhook.Send(ctx, webhookMessage{WebhookURL: webhookURL, Text: chunk, Mentions: mentions}); hookErr != nil {
			return channel.SendResult{}, sendErr
		}
		result.MessageID = channel.WebhookSentMessageID
		result.ChatID = hookChatID
		result.Status = channel.DeliveryDegraded
		result.Reason = "api quota exhausted, delivered via webhook"
	}
	return result, nil
}

func (a *Adapter) AddTypingIndicator(ctx context.Context, messageID, chatID string) channel.TypingState {
	return a.typing.Add(ctx, messageID, chatID)
}

func (a *Adapter) RemoveTypingIndicator(ctx context.Context, state channel.TypingState) {
	a.typing.Remove(ctx, state)
}

var (
	_ channel.Sender         = (*Adapter)(nil)
	_ channel.TypingNotifier = (*Adapter)(nil)
)
