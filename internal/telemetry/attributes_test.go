// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestEventAttributesOmitsEmptyIDs(t *testing.T) {
	got := attrMap(EventAttributes("recipes", "recipe_created", "", ""))
	assert.Len(t, got, 2)
	assert.Equal(t, "recipes", got[EventChannelKey].AsString())
	assert.Equal(t, "recipe_created", got[EventNameKey].AsString())
	assert.NotContains(t, got, EventOriginKey)
	assert.NotContains(t, got, EventMessageKey)
}

func TestEventAttributesCarriesEnvelopeIDs(t *testing.T) {
	got := attrMap(EventAttributes("planner", "plan_updated", "origin-1", "msg-9"))
	assert.Len(t, got, 4)
	assert.Equal(t, "origin-1", got[EventOriginKey].AsString())
	assert.Equal(t, "msg-9", got[EventMessageKey].AsString())
}

func TestJobAttributes(t *testing.T) {
	start := attrMap(JobAttributes("import_recipe", "job-42"))
	assert.Equal(t, "import_recipe", start[JobKindKey].AsString())
	assert.Equal(t, "job-42", start[JobIDKey].AsString())

	end := attrMap(JobResultAttributes("ok", 1500*time.Millisecond))
	assert.Equal(t, "ok", end[JobResultKey].AsString())
	assert.Equal(t, int64(1500), end[JobDurationKey].AsInt64())
}

func TestAdmissionAttributes(t *testing.T) {
	got := attrMap(AdmissionAttributes("import_recipe", "import_recipe:https://x.test/stew", "already_in_flight"))
	assert.Equal(t, "import_recipe", got[AdmissionKindKey].AsString())
	assert.Equal(t, "import_recipe:https://x.test/stew", got[AdmissionKeyKey].AsString())
	assert.Equal(t, "already_in_flight", got[AdmissionOutcomeKey].AsString())
}
