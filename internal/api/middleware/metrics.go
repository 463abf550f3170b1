// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bodyBuckets = prometheus.ExponentialBuckets(128, 4, 9)

var (
	reqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "larder_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	reqInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "larder_http_requests_in_flight",
		Help: "Requests currently being served",
	})

	reqBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "larder_http_request_size_bytes",
		Help:    "Request body sizes in bytes",
		Buckets: bodyBuckets,
	}, []string{"method", "route"})

	respBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "larder_http_response_size_bytes",
		Help:    "Response body sizes in bytes",
		Buckets: bodyBuckets,
	}, []string{"method", "route", "status"})
)

// Metrics records per-route latency, in-flight count and body sizes.
// Routes are labeled by matched chi pattern, never by raw path, so label
// cardinality stays bounded even under path scanning.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqInFlight.Inc()
			defer reqInFlight.Dec()

			start := time.Now()
			mw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(mw, r)

			route := routePattern(r)
			status := strconv.Itoa(mw.status)
			reqDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
			if r.ContentLength > 0 {
				reqBytes.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
			}
			if mw.bytes > 0 {
				respBytes.WithLabelValues(r.Method, route, status).Observe(float64(mw.bytes))
			}
		})
	}
}

// routePattern prefers the matched chi pattern over the raw URL path. The
// pattern is only final after the handler ran, so callers read it post-serve.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// metricsWriter captures status and bytes without buffering the body.
type metricsWriter struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (mw *metricsWriter) WriteHeader(status int) {
	if !mw.wrote {
		mw.status = status
		mw.wrote = true
	}
	mw.ResponseWriter.WriteHeader(status)
}

func (mw *metricsWriter) Write(b []byte) (int, error) {
	mw.wrote = true
	n, err := mw.ResponseWriter.Write(b)
	mw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs to hijack the connection.
func (mw *metricsWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
