package feishu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"larkcourier/internal/channel"
)

// ErrWebhookNotConfigured marks a delivery that needed webhook fallback for a
// group with no configured webhook URL. It is a configuration problem, not a
// transient failure, and is never retried through further tiers.
var ErrWebhookNotConfigured = errors.New("group webhook not configured")

// errImageHostsExhausted tags the failure cause after every public image host
// was tried, so the terminal step can word the degraded message accordingly.
var errImageHostsExhausted = errors.New("image hosts exhausted")

// mediaDelivery sequences a single media send attempt:
// primary send, then webhook fallback by media type, then image re-hosting,
// then a degraded link message. Once a webhook URL has been resolved, every
// exit path produces a user-visible message.
type mediaDelivery struct {
	gateway    messagingGateway
	webhook    *webhookSender
	fallbacks  GroupFallbackResolver
	hosts      []imageHost
	httpClient *http.Client
	logger     *slog.Logger
}

func newMediaDelivery(gateway messagingGateway, webhook *webhookSender, fallbacks GroupFallbackResolver, log *slog.Logger) *mediaDelivery {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	return &mediaDelivery{
		gateway:    gateway,
		webhook:    webhook,
		fallbacks:  fallbacks,
		hosts:      defaultImageHosts(httpClient),
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "media_delivery")),
	}
}

// fallbackState carries the per-attempt context shared by the fallback steps.
type fallbackState struct {
	target     string
	chatID     string
	mediaURL   string
	webhookURL string
	mentions   []string
	data       []byte
}

// acquire resolves the media bytes once and caches them across steps.
func (st *fallbackState) acquire(ctx context.Context, client *http.Client) ([]byte, error) {
	if st.data != nil {
		return st.data, nil
	}
	data, err := acquireMedia(ctx, client, st.mediaURL)
	if err != nil {
		return nil, err
	}
	st.data = data
	return data, nil
}

// fallbackStep is one tier of the image fallback chain. A step returns a
// terminal result, or passes a (possibly rewrapped) failure to the next tier.
// Returning (nil, nil) skips the step and keeps the current cause.
type fallbackStep struct {
	name string
	run  func(ctx context.Context, st *fallbackState, cause error) (*channel.SendResult, error)
}

// Deliver runs the media send state machine for one attempt.
func (d *mediaDelivery) Deliver(ctx context.Context, target, chatID, mediaURL string, mentions []string) (channel.SendResult, error) {
	receiveID, receiveType, err := resolveReceiveID(target)
	if err != nil {
		return channel.SendResult{}, err
	}
	if chatID == "" {
		chatID = receiveID
	}

	messageID, respChatID, sendErr := d.gateway.SendMedia(ctx, receiveID, receiveType, mediaURL)
	if sendErr == nil {
		if respChatID != "" {
			chatID = respChatID
		}
		return channel.SendResult{
			Channel:   Type,
			MessageID: messageID,
			ChatID:    chatID,
			Status:    channel.DeliveryDelivered,
		}, nil
	}
	if !isQuotaError(sendErr) {
		return channel.SendResult{}, sendErr
	}

	webhookURL, ok := d.fallbacks.ResolveWebhook(chatID)
	if !ok {
		return channel.SendResult{}, fmt.Errorf(
			"%w for %s: set groups.%s.webhook_url in %s",
			ErrWebhookNotConfigured, chatID, chatID, d.fallbacks.Source(),
		)
	}
	d.logger.Info("media send quota-limited, entering webhook fallback",
		slog.String("chat_id", chatID),
		slog.String("media_url", mediaURL),
	)

	st := &fallbackState{
		target:     target,
		chatID:     chatID,
		mediaURL:   mediaURL,
		webhookURL: webhookURL,
		mentions:   mentions,
	}
	if !isImageReference(mediaURL) {
		return d.sendLinkMessage(ctx, st, "")
	}
	steps := []fallbackStep{
		{name: "image_reupload", run: d.stepImageReupload},
		{name: "image_host", run: d.stepImageHost},
		{name: "degraded_link", run: d.stepDegradedLink},
	}
	return d.runSteps(ctx, steps, st, sendErr)
}

func (d *mediaDelivery) runSteps(ctx context.Context, steps []fallbackStep, st *fallbackState, cause error) (channel.SendResult, error) {
	for _, step := range steps {
		result, err := step.run(ctx, st, cause)
		if result != nil {
			return *result, nil
		}
		if err != nil {
			d.logger.Warn("media fallback step failed",
				slog.String("step", step.name),
				slog.String("chat_id", st.chatID),
				slog.Any("error", err),
			)
			cause = err
		}
	}
	return channel.SendResult{}, cause
}

// stepImageReupload acquires the image bytes and retries the platform-native
// image upload, delivering the image through the webhook on success.
func (d *mediaDelivery) stepImageReupload(ctx context.Context, st *fallbackState, _ error) (*channel.SendResult, error) {
	data, err := st.acquire(ctx, d.httpClient)
	if err != nil {
		return nil, err
	}
	imageKey, err := d.gateway.UploadImage(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := d.webhook.Send(ctx, webhookMessage{
		WebhookURL: st.webhookURL,
		Mentions:   st.mentions,
		ImageKey:   imageKey,
	}); err != nil {
		return nil, err
	}
	return webhookResult(st.chatID, "image delivered via webhook after quota fallback"), nil
}

// stepImageHost engages only when the prior tier failed on quota grounds; it
// re-hosts the image on a public host and posts the resulting link.
func (d *mediaDelivery) stepImageHost(ctx context.Context, st *fallbackState, cause error) (*channel.SendResult, error) {
	if !isQuotaError(cause) {
		return nil, nil
	}
	data, err := st.acquire(ctx, d.httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errImageHostsExhausted, err)
	}
	hosted, err := uploadImageToHost(ctx, d.hosts, data, d.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errImageHostsExhausted, err)
	}
	if err := d.webhook.Send(ctx, webhookMessage{
		WebhookURL: st.webhookURL,
		Text:       fmt.Sprintf("[image] %s", hosted.URL),
		Mentions:   st.mentions,
	}); err != nil {
		return nil, err
	}
	return webhookResult(st.chatID, "image re-hosted externally after quota fallback"), nil
}

// stepDegradedLink is the terminal tier: it always produces a user-visible
// message. When every image host was exhausted, it says so explicitly.
func (d *mediaDelivery) stepDegradedLink(ctx context.Context, st *fallbackState, cause error) (*channel.SendResult, error) {
	if errors.Is(cause, errImageHostsExhausted) {
		text := fmt.Sprintf("Image upload is limited right now, here is the original path: %s", st.mediaURL)
		if err := d.webhook.Send(ctx, webhookMessage{
			WebhookURL: st.webhookURL,
			Text:       text,
			Mentions:   st.mentions,
		}); err != nil {
			return nil, err
		}
		return webhookResult(st.chatID, "upload limited, original path delivered"), nil
	}
	result, err := d.sendLinkMessage(ctx, st, "")
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// sendLinkMessage posts the media reference as a plain link card.
func (d *mediaDelivery) sendLinkMessage(ctx context.Context, st *fallbackState, note string) (channel.SendResult, error) {
	text := st.mediaURL
	if note != "" {
		text = note + " " + text
	}
	if err := d.webhook.Send(ctx, webhookMessage{
		WebhookURL: st.webhookURL,
		Text:       text,
		Mentions:   st.mentions,
	}); err != nil {
		return channel.SendResult{}, err
	}
	return *webhookResult(st.chatID, "media delivered as link via webhook"), nil
}

func webhookResult(chatID, reason string) *channel.SendResult {
	return &channel.SendResult{
		Channel:   Type,
		MessageID: channel.WebhookSentMessageID,
		ChatID:    chatID,
		Status:    channel.DeliveryDegraded,
		Reason:    reason,
	}
}
