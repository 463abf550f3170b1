// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldConnID      = "conn_id"
	FieldJobID       = "job_id"
	FieldUserID      = "user_id"
	FieldHouseholdID = "household_id"
	FieldOriginID    = "origin_id"
	FieldMessageID   = "message_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldChannel   = "channel"
	FieldEventName = "event_name"
	FieldTopic     = "topic"
	FieldReason    = "reason"

	// Job fields
	FieldJobKind  = "job_kind"
	FieldIdentity = "identity"
	FieldOutcome  = "outcome"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
