// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: HTTP listeners, shutdown
// ordering, and the hooks that stop background subsystems.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
)

// ShutdownHook performs one unit of cleanup during graceful shutdown.
// Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Config holds the listener settings.
type Config struct {
	// ListenAddr is the public API and websocket address.
	ListenAddr string
	// MetricsAddr is the Prometheus listener. Empty disables it.
	MetricsAddr string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// Deps are the handlers the manager serves.
type Deps struct {
	// APIHandler serves the public API and websocket endpoint.
	APIHandler http.Handler
	// MetricsHandler serves MetricsAddr when both are set.
	MetricsHandler http.Handler
	// Logger defaults to a component logger when nil.
	Logger *zerolog.Logger
}

type cleanupStep struct {
	label string
	run   ShutdownHook
}

// Manager starts the servers, waits for a stop signal or a server failure,
// and unwinds everything in order.
type Manager struct {
	cfg  Config
	deps Deps

	api     *http.Server
	metrics *http.Server

	mu       sync.Mutex
	cleanup  []cleanupStep
	started  bool
	stopping bool

	logger zerolog.Logger
}

// NewManager validates deps and applies config defaults.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.APIHandler == nil {
		return nil, ErrMissingAPIHandler
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("daemon: listen address is empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	logger := log.WithComponent("daemon")
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	return &Manager{cfg: cfg, deps: deps, logger: logger}, nil
}

// RegisterShutdownHook appends a named cleanup step. Hooks run LIFO during
// Shutdown, after the listeners stopped accepting.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup = append(m.cleanup, cleanupStep{label: name, run: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Start brings up the listeners and blocks until ctx is canceled or a
// server fails, then runs Shutdown on a detached, bounded context.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("daemon: manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.cfg.ListenAddr).
		Str("metrics_listen", m.cfg.MetricsAddr).
		Dur("shutdown_timeout", m.cfg.ShutdownTimeout).
		Msg("starting daemon")

	failed := make(chan error, 2)

	if m.cfg.MetricsAddr != "" && m.deps.MetricsHandler != nil {
		m.metrics = &http.Server{
			Addr:              m.cfg.MetricsAddr,
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: m.cfg.ReadHeaderTimeout,
		}
		m.serve("metrics server", m.metrics, failed)
	}

	// Read and write timeouts stay unset: deadlines armed before a
	// websocket hijack keep firing on the hijacked conn and would kill
	// every session after the first interval. Per-frame deadlines live
	// in the session layer.
	m.api = &http.Server{
		Addr:              m.cfg.ListenAddr,
		Handler:           m.deps.APIHandler,
		ReadHeaderTimeout: m.cfg.ReadHeaderTimeout,
		IdleTimeout:       m.cfg.IdleTimeout,
		MaxHeaderBytes:    m.cfg.MaxHeaderBytes,
	}
	m.serve("api server", m.api, failed)

	var cause error
	select {
	case cause = <-failed:
		m.logger.Error().Err(cause).Str("event", "daemon.server_failed").Msg("server error, shutting down")
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.stop_signal").Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		if cause != nil {
			return errors.Join(cause, err)
		}
		return err
	}
	return cause
}

// serve runs one listener in the background, reporting fatal errors on
// failed. A clean close after Shutdown is not an error.
func (m *Manager) serve(name string, srv *http.Server, failed chan<- error) {
	go func() {
		m.logger.Info().Str("addr", srv.Addr).Msg(name + " listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

// Shutdown stops the listeners, then runs the hooks newest-first. All
// errors are collected; a failing hook never blocks the ones after it.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	steps := make([]cleanupStep, len(m.cleanup))
	copy(steps, m.cleanup)
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, l := range []struct {
		name string
		srv  *http.Server
	}{{"api server", m.api}, {"metrics server", m.metrics}} {
		if l.srv == nil {
			continue
		}
		if err := l.srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", l.name, err))
		}
	}

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		start := time.Now()
		if err := step.run(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", step.label).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", step.label, err))
			continue
		}
		m.logger.Debug().
			Str("hook", step.label).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}
