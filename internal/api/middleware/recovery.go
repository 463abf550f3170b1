// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/larderhq/larder/internal/log"
)

// Recoverer converts a downstream panic into a 500 without taking the
// process down. The websocket session loops contain their own panics; this
// net catches everything on the plain HTTP side.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				// net/http uses this sentinel to abort a response; let it through.
				panic(rec)
			}

			reqID := log.RequestIDFromContext(r.Context())
			log.WithComponentFromContext(r.Context(), "recovery").Error().
				Str("event", "panic.recovered").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(struct {
				Error     string `json:"error"`
				RequestID string `json:"request_id,omitempty"`
			}{"internal server error", reqID})
		}()
		next.ServeHTTP(w, r)
	})
}
