// SPDX-License-Identifier: MIT

package realtime

import (
	"encoding/json"

	"github.com/larderhq/larder/internal/actor"
	"github.com/larderhq/larder/internal/events"
)

// Predicate decides per event whether the given actor may see it. It runs
// on subscription dispatch goroutines for every matching event, so it must
// be side-effect free and cheap. The actor argument is the session's
// CURRENT context at delivery time, not the one from subscribe time.
type Predicate func(a actor.Context, evt events.Event) bool

// RoutingHint is the scoping prefix publishers embed in event payloads.
// An absent field leaves the event unscoped on that axis.
type RoutingHint struct {
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
}

func peekHint(payload json.RawMessage) RoutingHint {
	var h RoutingHint
	if len(payload) > 0 {
		// a payload without hint fields is simply unscoped
		_ = json.Unmarshal(payload, &h)
	}
	return h
}

// PredicateFor builds the server-side visibility rule for one channel.
// Clients never supply predicates; the subscribe handler calls this.
// Household channels scope by household and optionally by user
// (ownership); the permissions channel scopes by user. Admins see
// everything.
func PredicateFor(channel events.Channel) Predicate {
	if channel == events.ChannelPermissions {
		return func(a actor.Context, evt events.Event) bool {
			if a.Admin {
				return true
			}
			hint := peekHint(evt.Payload)
			return hint.UserID == "" || hint.UserID == a.UserID
		}
	}

	return func(a actor.Context, evt events.Event) bool {
		if a.Admin {
			return true
		}
		hint := peekHint(evt.Payload)
		if hint.UserID != "" && hint.UserID != a.UserID {
			return false
		}
		return a.CanSeeHousehold(hint.HouseholdID)
	}
}
