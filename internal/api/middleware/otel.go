// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// untraced lists paths whose spans would be pure noise: probes fire every
// few seconds and Prometheus scrapes on an interval.
var untraced = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// OTelHTTP instruments every request with a server span and propagates
// inbound trace context.
func OTelHTTP(serviceName string) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithSpanOptions(trace.WithAttributes(semconv.ServiceName(serviceName))),
		otelhttp.WithFilter(func(r *http.Request) bool {
			_, skip := untraced[r.URL.Path]
			return !skip
		}),
		otelhttp.WithSpanNameFormatter(spanName),
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}

// spanName yields "HTTP {METHOD} {PATH}". A bare "?" marks the presence of
// query parameters without leaking their values into trace storage.
func spanName(operation string, r *http.Request) string {
	name := operation + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		name += "?"
	}
	return name
}
