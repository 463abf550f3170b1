// SPDX-License-Identifier: MIT

// Package actor carries the authenticated caller identity through the
// distribution layer. Authorization itself happens upstream in the main app;
// this package only transports its result.
package actor

import "context"

// Context is the identity snapshot events are filtered against.
type Context struct {
	// UserID is the stable, unique identifier for the user.
	UserID string `json:"user_id"`

	// HouseholdID scopes the user to one household. Users see events for
	// their own household only, unless Admin is set.
	HouseholdID string `json:"household_id"`

	// Admin grants visibility across households.
	Admin bool `json:"admin,omitempty"`
}

// Valid reports whether the snapshot names a user.
func (c Context) Valid() bool {
	return c.UserID != ""
}

// CanSeeHousehold reports whether events scoped to household h are visible
// to this actor. An empty h means the event is not household-scoped.
func (c Context) CanSeeHousehold(h string) bool {
	if c.Admin || h == "" {
		return true
	}
	return c.HouseholdID == h
}

type ctxKey struct{}

// With stashes the actor in ctx for downstream handlers.
func With(ctx context.Context, a Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// From retrieves the actor stashed by With.
func From(ctx context.Context) (Context, bool) {
	a, ok := ctx.Value(ctxKey{}).(Context)
	return a, ok
}
