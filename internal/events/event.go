// SPDX-License-Identifier: MIT

package events

import (
	"encoding/json"
	"time"
)

// Event is a single occurrence on a channel. The same struct is the wire
// envelope for cross-process broadcast, so the payload is serialized exactly
// once, at publish time.
type Event struct {
	Channel Channel `json:"channel"`
	Name    Name    `json:"event"`
	// Payload is opaque to the distribution layer.
	Payload json.RawMessage `json:"payload,omitempty"`
	// MessageID identifies one broadcast for tracing and log correlation.
	MessageID string `json:"message_id"`
	// OriginID names the publishing process instance.
	OriginID string    `json:"origin_id"`
	At       time.Time `json:"at"`
}
