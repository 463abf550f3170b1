// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/larderhq/larder/internal/auth"
	"github.com/larderhq/larder/internal/log"
)

// serviceAuth enforces the shared service token on internal endpoints. An
// unset token denies everything; the admission and publish surfaces must
// never be open by accident.
func (s *Server) serviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.APIToken

		logger := log.WithComponentFromContext(r.Context(), "auth")

		if token == "" {
			logger.Error().
				Str("event", "auth.fail_closed").
				Msg("LARDER_API_TOKEN not set, denying access")
			writeUnauthorized(w)
			return
		}

		// Header or bearer only; query tokens end up in access logs.
		reqToken := auth.TokenFromRequest(r, false)
		if reqToken == "" {
			logger.Warn().
				Str("event", "auth.missing_token").
				Msg("authorization header missing")
			writeUnauthorized(w)
			return
		}

		if !auth.TokenMatches(reqToken, token) {
			logger.Warn().
				Str("event", "auth.invalid_token").
				Msg("invalid service token")
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
