// SPDX-License-Identifier: MIT

package middleware

import "net/http"

// devOrigins apply when no origin list is configured, so local frontends
// work against a default daemon.
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, X-Request-ID, Authorization, X-Larder-Token"
)

// CORS enforces a strict origin allowlist: listed origins are echoed back,
// "*" admits everyone, anything else gets no allow header and the browser
// blocks the response. Requests without an Origin header (curl, service to
// service) pass with a wildcard.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = devOrigins
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	_, allowAll := allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

			switch origin := r.Header.Get("Origin"); {
			case origin == "":
				h.Set("Access-Control-Allow-Origin", "*")
			case allowAll:
				h.Set("Access-Control-Allow-Origin", origin)
			default:
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
				}
			}

			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
