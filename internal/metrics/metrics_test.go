// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventCounters(t *testing.T) {
	before := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("recipes", "created"))
	IncEventPublished("recipes", "created")
	after := testutil.ToFloat64(EventsPublishedTotal.WithLabelValues("recipes", "created"))
	if after != before+1 {
		t.Errorf("published counter = %v, want %v", after, before+1)
	}

	IncEventDropped("recipes", "")
	if got := testutil.ToFloat64(EventsDroppedTotal.WithLabelValues("recipes", "unknown")); got < 1 {
		t.Errorf("empty reason should map to unknown, got %v", got)
	}
}

func TestConnectionGaugeRoundTrip(t *testing.T) {
	start := GetConnectionsActive()
	IncConnectionOpened()
	if got := GetConnectionsActive(); got != start+1 {
		t.Errorf("gauge after open = %v, want %v", got, start+1)
	}
	IncConnectionClosed("client_gone")
	if got := GetConnectionsActive(); got != start {
		t.Errorf("gauge after close = %v, want %v", got, start)
	}
}

func TestJobMetrics(t *testing.T) {
	RecordJobStarted("import_recipe")
	RecordJobCompleted("import_recipe", "ok", 120*time.Millisecond)

	if got := testutil.ToFloat64(JobsCompletedTotal.WithLabelValues("import_recipe", "ok")); got < 1 {
		t.Errorf("completed counter = %v, want >= 1", got)
	}

	SetJobQueueDepth(3)
	if got := GetJobQueueDepth(); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}
	SetJobQueueDepth(0)
}

func TestAdmissionCounters(t *testing.T) {
	before := testutil.ToFloat64(AdmissionDecisionsTotal.WithLabelValues("sync_caldav", "already_in_flight"))
	RecordAdmissionDecision("sync_caldav", "already_in_flight")
	after := testutil.ToFloat64(AdmissionDecisionsTotal.WithLabelValues("sync_caldav", "already_in_flight"))
	if after != before+1 {
		t.Errorf("decision counter = %v, want %v", after, before+1)
	}
}
