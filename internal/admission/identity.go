// SPDX-License-Identifier: MIT

// Package admission decides whether a background job may be enqueued. One
// identity admits at most one live job across every process sharing the
// store; work that already produced a resource is answered from the index
// instead of re-run.
package admission

import (
	"fmt"
	"strings"
)

// Identity names one unit of deduplicatable work. Callers normalize Target
// before building the identity (URL targets go through netguard.NormalizeURL)
// so spelling variants collapse to one key.
type Identity struct {
	// Kind is the job kind, e.g. "import_recipe".
	Kind string
	// Target is the job's primary argument: a normalized URL, a household
	// id, a recipe id.
	Target string
	// Fingerprint optionally narrows the identity when the same target can
	// legitimately run with different parameters.
	Fingerprint string
}

// Key returns the deterministic store key: kind:target[:fingerprint].
func (id Identity) Key() string {
	if id.Fingerprint == "" {
		return id.Kind + ":" + id.Target
	}
	return id.Kind + ":" + id.Target + ":" + id.Fingerprint
}

// Validate rejects identities that cannot form an unambiguous key.
func (id Identity) Validate() error {
	if id.Kind == "" {
		return fmt.Errorf("admission: identity kind empty")
	}
	if strings.ContainsAny(id.Kind, ": \t\n") {
		return fmt.Errorf("admission: identity kind %q contains reserved characters", id.Kind)
	}
	if id.Target == "" {
		return fmt.Errorf("admission: identity target empty")
	}
	return nil
}
