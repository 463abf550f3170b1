// SPDX-License-Identifier: MIT

// Package jobs runs admitted background work: a per-process worker pool
// plus the handlers for each job kind. Admission decides whether a job may
// exist; this package is only concerned with executing it and reporting the
// terminal outcome back to the admission layer and the event bus.
package jobs

import (
	"context"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/events"
)

// Kind names one type of background work.
type Kind string

const (
	KindImportRecipe      Kind = "import_recipe"
	KindImportImage       Kind = "import_image"
	KindEstimateNutrition Kind = "estimate_nutrition"
	KindSyncCalDAV        Kind = "sync_caldav"
)

// Kinds returns every known job kind.
func Kinds() []Kind {
	return []Kind{KindImportRecipe, KindImportImage, KindEstimateNutrition, KindSyncCalDAV}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImportRecipe, KindImportImage, KindEstimateNutrition, KindSyncCalDAV:
		return true
	}
	return false
}

// Params carries handler input. Which fields are set depends on the kind.
type Params struct {
	// URL is the import source for recipe and image jobs.
	URL string
	// RecipeID scopes image imports and nutrition estimates.
	RecipeID string
	// HouseholdID and CalendarURL drive CalDAV syncs.
	HouseholdID string
	CalendarURL string
}

// Job is one admitted unit of work. ID comes from the admission decision;
// Identity is what the runner completes or releases when the job finishes.
type Job struct {
	ID       string
	Kind     Kind
	Identity admission.Identity
	Params   Params
}

// Completion is a handler's successful result. ResourceID is recorded as the
// identity's terminal result; leave it empty for work that must stay
// repeatable. Channel/Name/Payload describe the success event the runner
// publishes; a zero Channel publishes nothing.
type Completion struct {
	ResourceID string
	Channel    events.Channel
	Name       events.Name
	Payload    any
}

// HandlerFunc executes one job. Returning an error releases the admission
// claim so the identity can be retried.
type HandlerFunc func(ctx context.Context, job Job) (Completion, error)
