// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"time"
)

// Record marks one in-flight job under an identity key.
type Record struct {
	JobID      string    `json:"job_id"`
	Key        string    `json:"key"`
	OriginID   string    `json:"origin_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Store is the shared conditional-write layer the admission decision rides
// on. PutIfAbsent must be atomic: of N concurrent callers for one key,
// exactly one observes true. Records expire after ttl as a fail-safe against
// crashed workers wedging an identity forever.
type Store interface {
	PutIfAbsent(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
}
