// Package config loads the process configuration and the per-group
// webhook fallback registry.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultWebhooksPath = "webhooks.yaml"

	// DefaultWebhookRatePerMinute bounds how fast fallback messages are posted
	// to a group webhook. Feishu custom bots throttle around 100 msg/min.
	DefaultWebhookRatePerMinute = 100
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Feishu   FeishuConfig   `toml:"feishu"`
	Fallback FallbackConfig `toml:"fallback"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret" validate:"required"`
}

type FeishuConfig struct {
	AppID     string `toml:"app_id" validate:"required"`
	AppSecret string `toml:"app_secret" validate:"required"`
	Region    string `toml:"region" validate:"omitempty,oneof=feishu lark"`
}

type FallbackConfig struct {
	// WebhooksFile points at the YAML file mapping group chat ids to
	// webhook URLs. Empty disables webhook fallback entirely.
	WebhooksFile         string `toml:"webhooks_file"`
	WebhookRatePerMinute int    `toml:"webhook_rate_per_minute" validate:"omitempty,gt=0"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Fallback: FallbackConfig{
			WebhooksFile:         DefaultWebhooksPath,
			WebhookRatePerMinute: DefaultWebhookRatePerMinute,
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
