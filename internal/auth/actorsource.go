// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/larderhq/larder/internal/actor"
)

// ErrNoAuthority marks deployments without an actor endpoint. Callers that
// see it keep whatever context the session token carried.
var ErrNoAuthority = errors.New("auth: no actor authority configured")

// NoAuthority is the ActorSource for deployments where the main app exposes
// no internal actor endpoint. Every lookup fails with ErrNoAuthority.
type NoAuthority struct{}

// ActorFor always returns ErrNoAuthority.
func (NoAuthority) ActorFor(context.Context, string) (actor.Context, error) {
	return actor.Context{}, ErrNoAuthority
}

const actorResponseLimit = 64 << 10

// HTTPActorSource resolves actor contexts from the main application's
// internal endpoint, GET {base}/internal/actors/{userID}. Responses are
// authoritative: the grants that come back replace the session's token
// snapshot.
type HTTPActorSource struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPActorSource builds a source against baseURL. token is sent as a
// bearer credential when non-empty.
func NewHTTPActorSource(baseURL, token string, timeout time.Duration) *HTTPActorSource {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPActorSource{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ActorFor fetches the current context for userID.
func (s *HTTPActorSource) ActorFor(ctx context.Context, userID string) (actor.Context, error) {
	if userID == "" {
		return actor.Context{}, errors.New("auth: empty user id")
	}

	endpoint := s.base + "/internal/actors/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return actor.Context{}, fmt.Errorf("actor lookup %s: %w", userID, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "larder")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return actor.Context{}, fmt.Errorf("actor lookup %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, actorResponseLimit)) //nolint:errcheck
		return actor.Context{}, fmt.Errorf("actor lookup %s: authority returned %d", userID, resp.StatusCode)
	}

	var a actor.Context
	if err := json.NewDecoder(io.LimitReader(resp.Body, actorResponseLimit)).Decode(&a); err != nil {
		return actor.Context{}, fmt.Errorf("actor lookup %s: decode: %w", userID, err)
	}
	if !a.Valid() {
		return actor.Context{}, fmt.Errorf("actor lookup %s: authority returned no user id", userID)
	}
	return a, nil
}
