// SPDX-License-Identifier: MIT

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans so traces stay queryable under one
// vocabulary. HTTP attributes come from otelhttp and are not duplicated here.
const (
	EventChannelKey = attribute.Key("event.channel")
	EventNameKey    = attribute.Key("event.name")
	EventOriginKey  = attribute.Key("event.origin_id")
	EventMessageKey = attribute.Key("event.message_id")

	JobKindKey     = attribute.Key("job.kind")
	JobIDKey       = attribute.Key("job.id")
	JobResultKey   = attribute.Key("job.result")
	JobDurationKey = attribute.Key("job.duration_ms")

	AdmissionKindKey    = attribute.Key("admission.kind")
	AdmissionKeyKey     = attribute.Key("admission.key")
	AdmissionOutcomeKey = attribute.Key("admission.outcome")
)

// EventAttributes describes an event envelope. Origin and message ids are
// omitted when empty; round-trip echoes carry both.
func EventAttributes(channel, name, originID, messageID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		EventChannelKey.String(channel),
		EventNameKey.String(name),
	}
	if originID != "" {
		attrs = append(attrs, EventOriginKey.String(originID))
	}
	if messageID != "" {
		attrs = append(attrs, EventMessageKey.String(messageID))
	}
	return attrs
}

// JobAttributes identifies a background job at span start.
func JobAttributes(kind, jobID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		JobKindKey.String(kind),
		JobIDKey.String(jobID),
	}
}

// JobResultAttributes records how a job ended.
func JobResultAttributes(result string, elapsed time.Duration) []attribute.KeyValue {
	return []attribute.KeyValue{
		JobResultKey.String(result),
		JobDurationKey.Int64(elapsed.Milliseconds()),
	}
}

// AdmissionAttributes records a deduplication decision.
func AdmissionAttributes(kind, key, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AdmissionKindKey.String(kind),
		AdmissionKeyKey.String(key),
		AdmissionOutcomeKey.String(outcome),
	}
}
