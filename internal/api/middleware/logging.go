// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/larderhq/larder/internal/log"
)

// AccessLog returns a middleware that writes one structured log line per
// request, after the handler finishes so the full latency is captured.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(lw, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			if lw.statusCode >= http.StatusInternalServerError {
				evt = logger.Error()
			} else if lw.statusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("event", "http.access").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", lw.statusCode).
				Int("bytes", lw.bytesWritten).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}

type logWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	written      bool
}

func (lw *logWriter) WriteHeader(statusCode int) {
	if !lw.written {
		lw.statusCode = statusCode
		lw.written = true
	}
	lw.ResponseWriter.WriteHeader(statusCode)
}

func (lw *logWriter) Write(b []byte) (int, error) {
	if !lw.written {
		lw.WriteHeader(http.StatusOK)
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.bytesWritten += n
	return n, err
}

func (lw *logWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}
