// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
)

// settleDelay is how long file events must stay quiet before a reload.
// Editors write, truncate, and rename in quick bursts on save.
const settleDelay = 500 * time.Millisecond

// Holder hands out the resolved configuration and keeps it fresh when a
// config file is in play. Only the log level takes effect live; settings
// wired into components at startup need a restart, and a reload that
// changes them says so.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current App

	cancel context.CancelFunc
}

// NewHolder wraps an already resolved configuration. path may be empty when
// the daemon runs on environment variables alone.
func NewHolder(initial App, path string) *Holder {
	return &Holder{
		path:    path,
		current: initial,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() App {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-resolves the configuration from file and environment. A
// configuration that fails to load or validate is discarded and the
// previous one stays in force.
func (h *Holder) Reload(_ context.Context) error {
	next, err := Load(h.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev.LogLevel != next.LogLevel {
		if err := log.SetLevel(next.LogLevel); err != nil {
			h.logger.Warn().
				Err(err).
				Str("level", next.LogLevel).
				Msg("keeping previous log level")
		}
	}
	if drift := staticDrift(prev, next); len(drift) > 0 {
		h.logger.Warn().
			Str("event", "config.restart_needed").
			Str("settings", strings.Join(drift, ", ")).
			Msg("changed settings take effect on the next start")
	}

	h.logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
	return nil
}

// staticDrift names the changed settings a reload cannot apply.
func staticDrift(prev, next App) []string {
	var drift []string
	if prev.ListenAddr != next.ListenAddr || prev.MetricsAddr != next.MetricsAddr {
		drift = append(drift, "listen addresses")
	}
	if prev.Redis != next.Redis {
		drift = append(drift, "redis")
	}
	if prev.Events != next.Events || prev.Realtime.SendBuffer != next.Realtime.SendBuffer {
		drift = append(drift, "buffers")
	}
	if prev.Jobs != next.Jobs {
		drift = append(drift, "job pool")
	}
	if prev.Admission != next.Admission {
		drift = append(drift, "admission ttl")
	}
	return drift
}

// StartWatcher begins reloading the configuration whenever its file
// changes. Without a file path there is nothing to watch and the call is a
// no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(h.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", h.path, err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	go h.watch(ctx, w)

	h.logger.Info().
		Str("event", "config.watch_started").
		Str("path", h.path).
		Msg("reloading configuration on file change")
	return nil
}

// Stop ends the file watch. Safe to call when none was started.
func (h *Holder) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Holder) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()

	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Write covers in-place edits, Create the rename dance most
			// editors do on save.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(settleDelay)

		case <-settle.C:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str("event", "config.reload_rejected").
					Msg("config file change not applied")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Warn().
				Err(err).
				Str("event", "config.watch_error").
				Msg("config watcher reported an error")
		}
	}
}
