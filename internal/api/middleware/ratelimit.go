// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig bounds request rates per client key.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc buckets requests; nil buckets by client IP.
	KeyFunc httprate.KeyFunc
}

// RateLimit applies a sliding-window limit. Clients over the limit get a
// JSON 429 carrying Retry-After so well-behaved callers can back off.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	key := cfg.KeyFunc
	if key == nil {
		key = httprate.KeyByIP
	}
	retryAfter := strconv.Itoa(int(cfg.WindowSize.Seconds()))

	reject := func(w http.ResponseWriter, _ *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "application/json")
		h.Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}

	return httprate.Limit(cfg.RequestLimit, cfg.WindowSize,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(reject),
	)
}
