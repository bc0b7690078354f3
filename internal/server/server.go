// Package server assembles the echo HTTP server hosting the delivery API.
package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"larkcourier/internal/auth"
	"larkcourier/internal/config"
)

// Handler registers a group of routes on the server.
type Handler interface {
	Register(e *echo.Echo)
}

// jwtSkipPaths are reachable without a token. Everything else needs a
// bearer token signed with the configured secret.
var jwtSkipPaths = map[string]struct{}{
	"/ping":   {},
	"/health": {},
}

type Server struct {
	echo *echo.Echo
	addr string
}

func New(cfg config.Config, log *slog.Logger, handlers ...Handler) *Server {
	addr := cfg.Server.Addr
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(cfg.Auth.JWTSecret, func(c echo.Context) bool {
		_, ok := jwtSkipPaths[c.Request().URL.Path]
		return ok
	}))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{echo: e, addr: addr}
}

func (s *Server) Start() error { return s.echo.Start(s.addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }
