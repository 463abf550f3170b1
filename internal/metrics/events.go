// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the larder daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// EventsPublishedTotal counts events accepted by Publish, by channel and name.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_events_published_total",
		Help: "Total number of events published to the bus, by channel and event name.",
	}, []string{"channel", "event"})

	// EventsDeliveredTotal counts handler invocations, by channel and name.
	EventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_events_delivered_total",
		Help: "Total number of events delivered to subscription handlers, by channel and event name.",
	}, []string{"channel", "event"})

	// EventsDroppedTotal counts events discarded before a handler saw them.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_events_dropped_total",
		Help: "Total number of events dropped, by channel and reason.",
	}, []string{"channel", "reason"})

	// EventSubscriptions tracks currently registered subscriptions.
	EventSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "larder_event_subscriptions",
		Help: "Current number of active bus subscriptions.",
	})

	// HandlerPanicsTotal counts recovered panics in subscription handlers.
	HandlerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_event_handler_panics_total",
		Help: "Total number of recovered panics in subscription handlers, by channel.",
	}, []string{"channel"})
)

// IncEventPublished records an accepted publish.
func IncEventPublished(channel, event string) {
	EventsPublishedTotal.WithLabelValues(channel, event).Inc()
}

// IncEventDelivered records a handler invocation.
func IncEventDelivered(channel, event string) {
	EventsDeliveredTotal.WithLabelValues(channel, event).Inc()
}

// IncEventDropped records a dropped event with a concrete reason.
func IncEventDropped(channel, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(channel, reason).Inc()
}

// IncHandlerPanic records a recovered handler panic.
func IncHandlerPanic(channel string) {
	HandlerPanicsTotal.WithLabelValues(channel).Inc()
}

// GetEventSubscriptions returns the current gauge value (for testing).
func GetEventSubscriptions() float64 {
	var m dto.Metric
	if err := EventSubscriptions.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
