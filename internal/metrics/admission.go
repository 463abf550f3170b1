// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values stay lowercase snake_case so PromQL selectors read cleanly.

var (
	// AdmissionDecisionsTotal counts admission outcomes by job kind.
	AdmissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_admission_decisions_total",
		Help: "Total number of admission decisions, by job kind and outcome (admitted, already_exists, already_in_flight).",
	}, []string{"kind", "outcome"})

	// AdmissionErrorsTotal counts admission attempts that failed outright.
	AdmissionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_admission_errors_total",
		Help: "Total number of admission attempts that errored, by job kind.",
	}, []string{"kind"})

	// AdmissionReleasesTotal counts in-flight records removed, by cause.
	AdmissionReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_admission_releases_total",
		Help: "Total number of in-flight records released, by job kind and cause (completed, released, enqueue_failed).",
	}, []string{"kind", "cause"})
)

// RecordAdmissionDecision increments the decision counter.
func RecordAdmissionDecision(kind, outcome string) {
	AdmissionDecisionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAdmissionError increments the error counter.
func RecordAdmissionError(kind string) {
	AdmissionErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordAdmissionRelease increments the release counter.
func RecordAdmissionRelease(kind, cause string) {
	AdmissionReleasesTotal.WithLabelValues(kind, cause).Inc()
}
