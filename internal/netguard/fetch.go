// SPDX-License-Identifier: MIT

package netguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/larderhq/larder/internal/log"
)

const (
	userAgent        = "larder-import/1.0"
	maxRedirects     = 5
	limiterCleanup   = 10 * time.Minute
	defaultHostRate  = rate.Limit(2)
	defaultHostBurst = 4
)

// ErrBodyTooLarge indicates the response exceeded the configured cap.
var ErrBodyTooLarge = errors.New("netguard: response body too large")

// FetchConfig configures the guarded fetcher.
type FetchConfig struct {
	Policy       Policy
	Timeout      time.Duration
	MaxBodyBytes int64

	// PerHostRate/PerHostBurst throttle fetches against a single origin.
	// Zero values take the package defaults.
	PerHostRate  rate.Limit
	PerHostBurst int
}

// Result is a completed guarded fetch.
type Result struct {
	Body        []byte
	ContentType string
	// FinalURL is the normalized URL after redirects.
	FinalURL string
}

// Fetcher retrieves external documents under the outbound policy: every
// request and every redirect hop is validated, bodies are capped, and each
// origin host is rate limited.
type Fetcher struct {
	client *http.Client
	policy Policy
	max    int64
	logger zerolog.Logger

	mu          sync.Mutex
	perHost     map[string]*rate.Limiter
	hostRate    rate.Limit
	hostBurst   int
	lastCleanup time.Time
}

// NewFetcher creates a guarded fetcher.
func NewFetcher(cfg FetchConfig, logger *zerolog.Logger) *Fetcher {
	l := log.WithComponent("netguard")
	if logger != nil {
		l = *logger
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.PerHostRate <= 0 {
		cfg.PerHostRate = defaultHostRate
	}
	if cfg.PerHostBurst <= 0 {
		cfg.PerHostBurst = defaultHostBurst
	}

	f := &Fetcher{
		policy:      cfg.Policy,
		max:         cfg.MaxBodyBytes,
		logger:      l,
		perHost:     make(map[string]*rate.Limiter),
		hostRate:    cfg.PerHostRate,
		hostBurst:   cfg.PerHostBurst,
		lastCleanup: time.Now(),
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			// Each hop gets the same scrutiny as the original URL.
			if _, err := ValidateURL(req.Context(), req.URL.String(), f.policy); err != nil {
				return fmt.Errorf("redirect refused: %w", err)
			}
			return nil
		},
	}
	return f
}

// Fetch validates the URL, waits for the origin's rate limiter, and
// retrieves the document.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	target, err := ValidateURL(ctx, rawURL, f.policy)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	if err := f.hostLimiter(req.URL.Hostname()).Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.max+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, f.max)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		if normalized, err := NormalizeURL(resp.Request.URL.String()); err == nil {
			final = normalized
		}
	}

	f.logger.Debug().
		Str("event", "netguard.fetched").
		Str(log.FieldURL, final).
		Int("bytes", len(body)).
		Msg("fetched external document")

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    final,
	}, nil
}

// hostLimiter returns the rate limiter for one origin host.
func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastCleanup) >= limiterCleanup {
		f.perHost = make(map[string]*rate.Limiter)
		f.lastCleanup = time.Now()
	}

	limiter, ok := f.perHost[host]
	if !ok {
		limiter = rate.NewLimiter(f.hostRate, f.hostBurst)
		f.perHost[host] = limiter
	}
	return limiter
}
