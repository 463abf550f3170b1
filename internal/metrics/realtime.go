// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// ConnectionsActive tracks currently registered websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "larder_connections_active",
		Help: "Current number of registered realtime connections.",
	})

	// ConnectionsOpenedTotal counts accepted websocket connections.
	ConnectionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "larder_connections_opened_total",
		Help: "Total number of accepted realtime connections.",
	})

	// ConnectionsClosedTotal counts closed connections by reason.
	ConnectionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_connections_closed_total",
		Help: "Total number of closed realtime connections, by reason.",
	}, []string{"reason"})

	// InvalidationsSentTotal counts invalidations published to the medium.
	InvalidationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "larder_invalidations_sent_total",
		Help: "Total number of session invalidations published.",
	})

	// InvalidationsAppliedTotal counts invalidations applied locally, by result.
	InvalidationsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_invalidations_applied_total",
		Help: "Total number of session invalidations applied by the local listener, by result (terminated, no_connections).",
	}, []string{"result"})

	// GateDeliveredTotal counts events forwarded to clients, by channel.
	GateDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_gate_delivered_total",
		Help: "Total number of events forwarded to realtime clients, by channel.",
	}, []string{"channel"})

	// GateFilteredTotal counts events withheld from clients, by channel and reason.
	GateFilteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_gate_filtered_total",
		Help: "Total number of events withheld from realtime clients, by channel and reason (gone, predicate, overflow).",
	}, []string{"channel", "reason"})

	// ActorRefreshTotal counts actor context refreshes after policy changes.
	ActorRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_actor_refresh_total",
		Help: "Total number of actor context refreshes triggered by policy events, by result.",
	}, []string{"result"})
)

// IncConnectionOpened records an accepted connection.
func IncConnectionOpened() {
	ConnectionsOpenedTotal.Inc()
	ConnectionsActive.Inc()
}

// IncConnectionClosed records a closed connection with a concrete reason.
func IncConnectionClosed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	ConnectionsClosedTotal.WithLabelValues(reason).Inc()
	ConnectionsActive.Dec()
}

// IncInvalidationSent records a published invalidation.
func IncInvalidationSent() {
	InvalidationsSentTotal.Inc()
}

// IncInvalidationApplied records a locally applied invalidation.
func IncInvalidationApplied(result string) {
	InvalidationsAppliedTotal.WithLabelValues(result).Inc()
}

// IncGateDelivered records an event forwarded to a client.
func IncGateDelivered(channel string) {
	GateDeliveredTotal.WithLabelValues(channel).Inc()
}

// IncGateFiltered records an event withheld from a client.
func IncGateFiltered(channel, reason string) {
	GateFilteredTotal.WithLabelValues(channel, reason).Inc()
}

// IncActorRefresh records an actor context refresh attempt.
func IncActorRefresh(result string) {
	ActorRefreshTotal.WithLabelValues(result).Inc()
}

// GetConnectionsActive returns the current gauge value (for testing).
func GetConnectionsActive() float64 {
	var m dto.Metric
	if err := ConnectionsActive.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
