package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"larkcourier/internal/auth"
	"larkcourier/internal/channel"
	"larkcourier/internal/channel/adapters/feishu"
)

var validate = validator.New()

// SendHandler exposes outbound message delivery over HTTP.
type SendHandler struct {
	sender channel.Sender
	logger *slog.Logger
}

func NewSendHandler(sender channel.Sender, log *slog.Logger) *SendHandler {
	return &SendHandler{
		sender: sender,
		logger: log.With(slog.String("handler", "send")),
	}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/api/send", h.Send)
}

type sendRequest struct {
	Target   string   `json:"target" validate:"required"`
	Text     string   `json:"text" validate:"required_without=MediaURL"`
	Mentions []string `json:"mentions"`
	MediaURL string   `json:"media_url"`
}

// Send delivers one outbound message and reports the delivery outcome,
// including whether a fallback path was used.
func (h *SendHandler) Send(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg := channel.OutboundMessage{
		Target: strings.TrimSpace(req.Target),
		Message: channel.Message{
			Text:     req.Text,
			Mentions: req.Mentions,
			MediaURL: strings.TrimSpace(req.MediaURL),
		},
	}
	if msg.Message.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "text or media_url is required")
	}

	result, err := h.sender.Send(c.Request().Context(), msg)
	if err != nil {
		h.logger.Error("send failed",
			slog.String("user_id", userID),
			slog.String("target", msg.Target),
			slog.Any("error", err),
		)
		if errors.Is(err, feishu.ErrWebhookNotConfigured) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	if result.Degraded() {
		h.logger.Warn("message delivered degraded",
			slog.String("target", msg.Target),
			slog.String("reason", result.Reason),
		)
	}
	return c.JSON(http.StatusOK, result)
}
