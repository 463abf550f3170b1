// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithConnID(ctx, "conn-1")
	ctx = ContextWithJobID(ctx, "job-1")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}
	if got := ConnIDFromContext(ctx); got != "conn-1" {
		t.Errorf("conn id = %q, want conn-1", got)
	}
	if got := JobIDFromContext(ctx); got != "job-1" {
		t.Errorf("job id = %q, want job-1", got)
	}
}

func TestContextHelpersNilSafe(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("request id from nil context = %q, want empty", got)
	}
	//nolint:staticcheck
	ctx := ContextWithRequestID(nil, "req-9")
	if got := RequestIDFromContext(ctx); got != "req-9" {
		t.Errorf("request id = %q, want req-9", got)
	}
}

func TestWithContextEnrichesLogger(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-7")
	ctx = ContextWithJobID(ctx, "job-7")

	var buf bytes.Buffer
	l := WithContext(ctx, root()).Output(&buf)
	l.Info().Msg("enriched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["request_id"] != "req-7" {
		t.Errorf("request_id = %v, want req-7", entry["request_id"])
	}
	if entry["job_id"] != "job-7" {
		t.Errorf("job_id = %v, want job-7", entry["job_id"])
	}
}

func TestWithComponentFromContextCarriesCorrelation(t *testing.T) {
	ctx := ContextWithConnID(context.Background(), "conn-3")

	var buf bytes.Buffer
	l := WithComponentFromContext(ctx, "ws").Output(&buf)
	l.Info().Msg("session")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "ws" {
		t.Errorf("component = %v, want ws", entry["component"])
	}
	if entry["conn_id"] != "conn-3" {
		t.Errorf("conn_id = %v, want conn-3", entry["conn_id"])
	}
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	l := WithContext(context.Background(), root()).Output(&buf)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("unexpected request_id on logger without context fields")
	}
}
