// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// JobsStartedTotal counts jobs picked up by a worker.
	JobsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_jobs_started_total",
		Help: "Total number of jobs started, by kind.",
	}, []string{"kind"})

	// JobsCompletedTotal counts finished jobs by kind and result.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_jobs_completed_total",
		Help: "Total number of jobs finished, by kind and result (ok, error, panic).",
	}, []string{"kind", "result"})

	// JobDuration observes job wall time by kind.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "larder_job_duration_seconds",
		Help:    "Job wall time in seconds, by kind.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	// JobQueueDepth tracks the number of jobs waiting for a worker.
	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "larder_job_queue_depth",
		Help: "Current number of jobs waiting in the runner queue.",
	})
)

// RecordJobStarted increments the started counter.
func RecordJobStarted(kind string) {
	JobsStartedTotal.WithLabelValues(kind).Inc()
}

// RecordJobCompleted increments the completion counter and observes duration.
func RecordJobCompleted(kind, result string, elapsed time.Duration) {
	JobsCompletedTotal.WithLabelValues(kind, result).Inc()
	JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetJobQueueDepth sets the queue depth gauge.
func SetJobQueueDepth(depth float64) {
	JobQueueDepth.Set(depth)
}

// GetJobQueueDepth returns the current gauge value (for testing).
func GetJobQueueDepth() float64 {
	var m dto.Metric
	if err := JobQueueDepth.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
