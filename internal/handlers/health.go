package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler exposes the unauthenticated liveness endpoints used by
// load balancers and deploy checks.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(log *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: log.With(slog.String("handler", "health"))}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Health)
}

func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "larkcourier",
	})
}

// Health answers HEAD probes; the body-less form keeps probe traffic cheap.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
