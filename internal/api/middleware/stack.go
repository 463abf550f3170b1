// SPDX-License-Identifier: MIT

// Package middleware is the canonical HTTP ingress stack. Every listener
// goes through ApplyStack so cross-cutting concerns cannot drift between
// them.
package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// StackConfig selects which ingress concerns a router carries.
type StackConfig struct {
	// Browser-facing concerns.
	CORS    bool
	Origins []string

	SecurityHeaders bool
	CSP             string

	// Observability.
	Metrics   bool
	Tracing   string // OTel service name; empty disables tracing
	AccessLog bool

	// Rate limiting.
	RateLimit  bool
	RateRPS    int
	RateWindow time.Duration
}

// NewRouter constructs a chi router with the canonical stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs the shared middleware in a fixed order: the recoverer
// wraps everything, correlation IDs land before anything that logs, browser
// concerns (CORS, security headers) precede observability, and the rate
// limiter sits innermost so rejected requests still show up in metrics and
// the access log.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer, RequestID)

	if cfg.CORS {
		r.Use(CORS(cfg.Origins))
	}
	if cfg.SecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
	if cfg.Metrics {
		r.Use(Metrics())
	}
	if cfg.Tracing != "" {
		r.Use(OTelHTTP(cfg.Tracing))
	}
	if cfg.AccessLog {
		r.Use(AccessLog())
	}
	if cfg.RateLimit {
		r.Use(RateLimit(RateLimitConfig{
			RequestLimit: cfg.RateRPS,
			WindowSize:   cfg.RateWindow,
		}))
	}
}
