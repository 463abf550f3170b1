// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
	"github.com/larderhq/larder/internal/telemetry"
)

// Outcome classifies one TryAdmit decision.
type Outcome string

const (
	// OutcomeAdmitted: no terminal result, no live claim; a new job was
	// enqueued under Decision.JobID.
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeAlreadyExists: the identity already produced a resource;
	// Decision.ResourceID names it. No job was enqueued.
	OutcomeAlreadyExists Outcome = "already_exists"
	// OutcomeAlreadyInFlight: another job holds the claim;
	// Decision.JobID names the running job. No job was enqueued.
	OutcomeAlreadyInFlight Outcome = "already_in_flight"
)

// Decision reports what TryAdmit did for one identity.
type Decision struct {
	Outcome    Outcome
	JobID      string
	ResourceID string
}

// JobFactory enqueues the job after admission is won. It runs at most once
// per TryAdmit call; an error releases the claim so the next request can
// try again.
type JobFactory func(ctx context.Context, jobID string) error

// Config assembles a Controller.
type Config struct {
	Store Store
	Index ResourceIndex
	// TTL bounds how long a claim can outlive a crashed worker.
	// Zero takes the default of 15 minutes; the floor is one minute.
	TTL time.Duration
	// Origin names this process in claim records.
	Origin string
	Logger *zerolog.Logger
}

// Controller makes admission decisions. It is safe for concurrent use.
type Controller struct {
	store  Store
	index  ResourceIndex
	ttl    time.Duration
	origin string
	logger zerolog.Logger
}

// NewController panics if the store or index is missing; both are wiring,
// not runtime conditions.
func NewController(cfg Config) *Controller {
	if cfg.Store == nil {
		panic("admission: Config.Store is required")
	}
	if cfg.Index == nil {
		panic("admission: Config.Index is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	logger := log.WithComponent("admission")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		store:  cfg.Store,
		index:  cfg.Index,
		ttl:    ttl,
		origin: cfg.Origin,
		logger: logger,
	}
}

// TTL returns the claim lifetime the controller writes.
func (c *Controller) TTL() time.Duration { return c.ttl }

// TryAdmit decides whether id may run: a recorded terminal result answers
// AlreadyExists, a live claim answers AlreadyInFlight, otherwise this call
// claims the identity and enqueues through factory. When the claim is lost
// but the record has vanished before it can be read (the winner finished in
// the window), the decision re-runs once from the top.
func (c *Controller) TryAdmit(ctx context.Context, id Identity, factory JobFactory) (Decision, error) {
	if factory == nil {
		panic("admission: TryAdmit requires a factory")
	}
	if err := id.Validate(); err != nil {
		return Decision{}, err
	}
	key := id.Key()

	for attempt := 0; ; attempt++ {
		decision, retry, err := c.tryOnce(ctx, id, key, factory)
		if err != nil {
			metrics.RecordAdmissionError(id.Kind)
			return Decision{}, err
		}
		if retry {
			if attempt >= 1 {
				metrics.RecordAdmissionError(id.Kind)
				return Decision{}, fmt.Errorf("admission: claim for %s vanished twice, giving up", key)
			}
			c.logger.Debug().
				Str("event", "admission.claim_vanished").
				Str(log.FieldIdentity, key).
				Msg("lost the claim race but the record is gone, re-running decision")
			continue
		}

		metrics.RecordAdmissionDecision(id.Kind, string(decision.Outcome))
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(telemetry.AdmissionAttributes(id.Kind, key, string(decision.Outcome))...)
		}
		c.logDecision(key, decision)
		return decision, nil
	}
}

func (c *Controller) tryOnce(ctx context.Context, id Identity, key string, factory JobFactory) (Decision, bool, error) {
	resourceID, ok, err := c.index.Find(ctx, key)
	if err != nil {
		return Decision{}, false, err
	}
	if ok {
		return Decision{Outcome: OutcomeAlreadyExists, ResourceID: resourceID}, false, nil
	}

	jobID := uuid.New().String()
	rec := Record{JobID: jobID, Key: key, OriginID: c.origin, EnqueuedAt: time.Now().UTC()}
	won, err := c.store.PutIfAbsent(ctx, key, rec, c.ttl)
	if err != nil {
		return Decision{}, false, err
	}

	if won {
		if err := factory(ctx, jobID); err != nil {
			if delErr := c.store.Delete(ctx, key); delErr != nil {
				c.logger.Error().
					Err(delErr).
					Str("event", "admission.release_failed").
					Str(log.FieldIdentity, key).
					Msg("claim stuck until TTL after enqueue failure")
			}
			metrics.RecordAdmissionRelease(id.Kind, "enqueue_failed")
			return Decision{}, false, fmt.Errorf("enqueue %s: %w", key, err)
		}
		return Decision{Outcome: OutcomeAdmitted, JobID: jobID}, false, nil
	}

	existing, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Decision{}, false, err
	}
	if found {
		return Decision{Outcome: OutcomeAlreadyInFlight, JobID: existing.JobID}, false, nil
	}
	return Decision{}, true, nil
}

// Complete records a job's terminal result and clears its claim. An empty
// resourceID skips the index: repeatable work (periodic syncs) must not
// short-circuit its next run. The index write lands before the claim is
// deleted so a crash in between leaves a stale claim for the TTL, never a
// missing result.
func (c *Controller) Complete(ctx context.Context, id Identity, resourceID string) error {
	key := id.Key()
	if resourceID != "" {
		if err := c.index.Record(ctx, key, resourceID); err != nil {
			return err
		}
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	metrics.RecordAdmissionRelease(id.Kind, "completed")
	c.logger.Debug().
		Str("event", "admission.completed").
		Str(log.FieldIdentity, key).
		Str("resource_id", resourceID).
		Msg("claim cleared after completion")
	return nil
}

// Release clears the claim without recording a result, making the identity
// admissible again immediately. Failed jobs call this; crashed jobs rely on
// the TTL instead.
func (c *Controller) Release(ctx context.Context, id Identity) error {
	key := id.Key()
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	metrics.RecordAdmissionRelease(id.Kind, "released")
	c.logger.Debug().
		Str("event", "admission.released").
		Str(log.FieldIdentity, key).
		Msg("claim released without result")
	return nil
}

func (c *Controller) logDecision(key string, d Decision) {
	switch d.Outcome {
	case OutcomeAdmitted:
		c.logger.Info().
			Str("event", "admission.granted").
			Str(log.FieldIdentity, key).
			Str(log.FieldJobID, d.JobID).
			Msg("job admitted")
	case OutcomeAlreadyExists:
		c.logger.Debug().
			Str("event", "admission.duplicate_resource").
			Str(log.FieldIdentity, key).
			Str("resource_id", d.ResourceID).
			Msg("identity already produced a resource")
	case OutcomeAlreadyInFlight:
		c.logger.Debug().
			Str("event", "admission.duplicate_inflight").
			Str(log.FieldIdentity, key).
			Str(log.FieldJobID, d.JobID).
			Msg("identity already has a running job")
	}
}
