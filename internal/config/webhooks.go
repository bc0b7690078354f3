package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// GroupFallback holds the fallback settings for one group chat.
// It is read-only to the delivery pipeline.
type GroupFallback struct {
	WebhookURL string `yaml:"webhook_url"`
}

type webhookFile struct {
	Groups map[string]GroupFallback `yaml:"groups"`
}

// WebhookRegistry maps normalized group chat ids to their fallback webhook
// configuration. The backing file is reloaded on change; a failed reload
// keeps the last good snapshot.
type WebhookRegistry struct {
	mu     sync.RWMutex
	path   string
	groups map[string]GroupFallback
	logger *slog.Logger
}

// LoadWebhookRegistry reads the YAML registry at path. An empty path yields
// an empty registry with fallback disabled.
func LoadWebhookRegistry(path string, log *slog.Logger) (*WebhookRegistry, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := &WebhookRegistry{
		path:   strings.TrimSpace(path),
		groups: map[string]GroupFallback{},
		logger: log.With(slog.String("component", "webhook_registry")),
	}
	if reg.path == "" {
		return reg, nil
	}
	if err := reg.reload(); err != nil {
		return nil, err
	}
	return reg, nil
}

// ResolveWebhook returns the webhook URL configured for the given chat id.
func (r *WebhookRegistry) ResolveWebhook(chatID string) (string, bool) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[chatID]
	if !ok || strings.TrimSpace(group.WebhookURL) == "" {
		return "", false
	}
	return strings.TrimSpace(group.WebhookURL), true
}

// Source returns the registry file path, for user-facing error messages.
func (r *WebhookRegistry) Source() string {
	if r.path == "" {
		return DefaultWebhooksPath
	}
	return r.path
}

func (r *WebhookRegistry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read webhook registry %s: %w", r.path, err)
	}
	var parsed webhookFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse webhook registry %s: %w", r.path, err)
	}
	groups := make(map[string]GroupFallback, len(parsed.Groups))
	for chatID, group := range parsed.Groups {
		chatID = strings.TrimSpace(chatID)
		if chatID == "" {
			continue
		}
		groups[chatID] = group
	}
	r.mu.Lock()
	r.groups = groups
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever the backing file changes, until ctx is
// cancelled. It returns immediately for a registry without a file.
func (r *WebhookRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch webhook registry: %w", err)
	}
	// Watch the directory: editors replace files via rename, which drops
	// watches on the file itself.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch webhook registry dir %s: %w", dir, err)
	}
	go func() {
		defer func() {
			_ = watcher.Close()
		}()
		target := filepath.Clean(r.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := r.reload(); err != nil {
					r.logger.Warn("webhook registry reload failed; keeping previous snapshot", slog.Any("error", err))
					continue
				}
				r.logger.Info("webhook registry reloaded", slog.String("path", r.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("webhook registry watch error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
