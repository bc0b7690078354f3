package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"larkcourier/internal/channel"
)

// TypingHandler exposes the best-effort typing indicator API.
type TypingHandler struct {
	notifier channel.TypingNotifier
	logger   *slog.Logger
}

func NewTypingHandler(notifier channel.TypingNotifier, log *slog.Logger) *TypingHandler {
	return &TypingHandler{
		notifier: notifier,
		logger:   log.With(slog.String("handler", "typing")),
	}
}

func (h *TypingHandler) Register(e *echo.Echo) {
	e.POST("/api/typing", h.Add)
	e.DELETE("/api/typing", h.Remove)
}

type typingRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	ChatID    string `json:"chat_id"`
}

// Add places a typing indicator on the given message. The call never fails
// past validation: indicator problems are absorbed by the notifier.
func (h *TypingHandler) Add(c echo.Context) error {
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	state := h.notifier.AddTypingIndicator(c.Request().Context(), strings.TrimSpace(req.MessageID), strings.TrimSpace(req.ChatID))
	return c.JSON(http.StatusOK, state)
}

// Remove clears a previously placed indicator. Accepts the state returned by
// Add; removing a webhook acknowledgment is a no-op.
func (h *TypingHandler) Remove(c echo.Context) error {
	var state channel.TypingState
	if err := c.Bind(&state); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(state.MessageID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message_id is required")
	}

	h.notifier.RemoveTypingIndicator(c.Request().Context(), state)
	return c.NoContent(http.StatusNoContent)
}
