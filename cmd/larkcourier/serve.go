package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"larkcourier/internal/channel"
	"larkcourier/internal/channel/adapters/feishu"
	"larkcourier/internal/config"
	"larkcourier/internal/handlers"
	"larkcourier/internal/logger"
	"larkcourier/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideWebhookRegistry,
			provideAdapter,
			func(a *feishu.Adapter) channel.Sender { return a },
			func(a *feishu.Adapter) channel.TypingNotifier { return a },
			provideServerHandler(handlers.NewHealthHandler),
			provideServerHandler(handlers.NewSendHandler),
			provideServerHandler(handlers.NewTypingHandler),
			provideServer,
		),
		fx.Invoke(
			startWebhookWatch,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideWebhookRegistry(cfg config.Config, log *slog.Logger) (*config.WebhookRegistry, error) {
	return config.LoadWebhookRegistry(cfg.Fallback.WebhooksFile, log)
}

func provideAdapter(cfg config.Config, registry *config.WebhookRegistry, log *slog.Logger) *feishu.Adapter {
	return feishu.NewAdapter(cfg.Feishu, cfg.Fallback, registry, log)
}

type serverParams struct {
	fx.In
	Config   config.Config
	Logger   *slog.Logger
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Config, params.Logger, params.Handlers...)
}

func startWebhookWatch(lc fx.Lifecycle, registry *config.WebhookRegistry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return registry.Watch(ctx) },
		OnStop:  func(_ context.Context) error { cancel(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
