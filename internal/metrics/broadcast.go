// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BroadcastSentTotal counts envelopes published to the shared medium.
	BroadcastSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_broadcast_sent_total",
		Help: "Total number of envelopes published to the shared medium, by channel.",
	}, []string{"channel"})

	// BroadcastReceivedTotal counts envelopes received from the shared medium.
	BroadcastReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_broadcast_received_total",
		Help: "Total number of envelopes received from the shared medium, by channel.",
	}, []string{"channel"})

	// BroadcastErrorsTotal counts broadcast failures by stage.
	BroadcastErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_broadcast_errors_total",
		Help: "Total number of broadcast failures, by stage (encode, publish, decode, subscribe).",
	}, []string{"stage"})

	// BroadcastReconnectsTotal counts listener resubscribe attempts after a
	// dropped medium connection.
	BroadcastReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "larder_broadcast_reconnects_total",
		Help: "Total number of listener reconnect attempts to the shared medium.",
	})
)

// IncBroadcastSent records an envelope published to the medium.
func IncBroadcastSent(channel string) {
	BroadcastSentTotal.WithLabelValues(channel).Inc()
}

// IncBroadcastReceived records an envelope received from the medium.
func IncBroadcastReceived(channel string) {
	BroadcastReceivedTotal.WithLabelValues(channel).Inc()
}

// IncBroadcastError records a broadcast failure at a concrete stage.
func IncBroadcastError(stage string) {
	BroadcastErrorsTotal.WithLabelValues(stage).Inc()
}

// IncBroadcastReconnect records a listener reconnect attempt.
func IncBroadcastReconnect() {
	BroadcastReconnectsTotal.Inc()
}
