// SPDX-License-Identifier: MIT

// Package log provides the daemon's structured logging: a once-configured
// zerolog base plus context plumbing for request, connection and job
// correlation IDs.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	connIDKey    ctxKey = "conn_id"
	jobIDKey     ctxKey = "job_id"
)

// correlations maps context keys to the log fields they surface as.
var correlations = []struct {
	key   ctxKey
	field string
}{
	{requestIDKey, FieldRequestID},
	{connIDKey, FieldConnID},
	{jobIDKey, FieldJobID},
}

func stash(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func fetch(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID stores the HTTP request correlation ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return stash(ctx, requestIDKey, id)
}

// ContextWithConnID stores the realtime connection ID.
func ContextWithConnID(ctx context.Context, id string) context.Context {
	return stash(ctx, connIDKey, id)
}

// ContextWithJobID stores the background job ID.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return stash(ctx, jobIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string { return fetch(ctx, requestIDKey) }

func ConnIDFromContext(ctx context.Context) string { return fetch(ctx, connIDKey) }

func JobIDFromContext(ctx context.Context) string { return fetch(ctx, jobIDKey) }

// WithContext copies the correlation IDs present in ctx onto logger as
// fields. A context carrying none returns logger unchanged.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	found := false
	for _, c := range correlations {
		if v := fetch(ctx, c.key); v != "" {
			builder = builder.Str(c.field, v)
			found = true
		}
	}
	if !found {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext is the request-path logger constructor: the
// component name plus whatever correlation IDs the context carries.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
