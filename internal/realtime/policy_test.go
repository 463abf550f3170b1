// SPDX-License-Identifier: MIT

package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/larderhq/larder/internal/actor"
	"github.com/larderhq/larder/internal/events"
)

func TestPeekHint(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    RoutingHint
	}{
		{"nil payload", "", RoutingHint{}},
		{"empty object", `{}`, RoutingHint{}},
		{"malformed is unscoped", `{oops`, RoutingHint{}},
		{"user only", `{"user_id":"u1"}`, RoutingHint{UserID: "u1"}},
		{"both axes", `{"user_id":"u1","household_id":"h1"}`, RoutingHint{UserID: "u1", HouseholdID: "h1"}},
		{"extra fields ignored", `{"household_id":"h1","recipe_id":"r9"}`, RoutingHint{HouseholdID: "h1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var payload json.RawMessage
			if tc.payload != "" {
				payload = json.RawMessage(tc.payload)
			}
			assert.Equal(t, tc.want, peekHint(payload))
		})
	}
}

func TestPredicateForHouseholdChannels(t *testing.T) {
	member := actor.Context{UserID: "u1", HouseholdID: "h1"}
	outsider := actor.Context{UserID: "u2", HouseholdID: "h2"}
	admin := actor.Context{UserID: "root", Admin: true}
	homeless := actor.Context{UserID: "u3"}

	tests := []struct {
		name    string
		a       actor.Context
		payload string
		want    bool
	}{
		{"member sees own household", member, `{"household_id":"h1"}`, true},
		{"outsider blocked", outsider, `{"household_id":"h1"}`, false},
		{"admin sees everything", admin, `{"household_id":"h1"}`, true},
		{"unscoped visible to all", member, `{}`, true},
		{"unscoped visible without household", homeless, `{}`, true},
		{"scoped hidden without household", homeless, `{"household_id":"h1"}`, false},
		{"owner sees own", member, `{"user_id":"u1","household_id":"h1"}`, true},
		{"non-owner blocked even in household", member, `{"user_id":"u9","household_id":"h1"}`, false},
		{"admin overrides ownership", admin, `{"user_id":"u9","household_id":"h1"}`, true},
		{"malformed payload is unscoped", member, `{broken`, true},
	}

	for _, channel := range []events.Channel{events.ChannelRecipes, events.ChannelGroceries} {
		pred := PredicateFor(channel)
		for _, tc := range tests {
			t.Run(string(channel)+"/"+tc.name, func(t *testing.T) {
				evt := events.Event{Channel: channel, Name: events.NameUpdated, Payload: json.RawMessage(tc.payload)}
				assert.Equal(t, tc.want, pred(tc.a, evt))
			})
		}
	}
}

func TestPredicateForPermissions(t *testing.T) {
	pred := PredicateFor(events.ChannelPermissions)

	tests := []struct {
		name    string
		a       actor.Context
		payload string
		want    bool
	}{
		{"own policy change", actor.Context{UserID: "u1"}, `{"user_id":"u1"}`, true},
		{"someone else's hidden", actor.Context{UserID: "u2"}, `{"user_id":"u1"}`, false},
		{"global change visible", actor.Context{UserID: "u2"}, `{}`, true},
		{"admin sees all", actor.Context{UserID: "root", Admin: true}, `{"user_id":"u1"}`, true},
		{"household hint irrelevant here", actor.Context{UserID: "u1", HouseholdID: "h2"}, `{"user_id":"u1","household_id":"h1"}`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := events.Event{Channel: events.ChannelPermissions, Name: events.NamePolicyUpdated, Payload: json.RawMessage(tc.payload)}
			assert.Equal(t, tc.want, pred(tc.a, evt))
		})
	}
}
