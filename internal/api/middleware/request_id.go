// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/larderhq/larder/internal/log"
)

// HeaderRequestID carries the request correlation ID. Inbound values are
// echoed back; absent ones are minted.
const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with a correlation ID and stores it in the
// context for the access log and error bodies.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(log.ContextWithRequestID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}
