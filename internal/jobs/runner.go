// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
	"github.com/larderhq/larder/internal/telemetry"
)

var (
	// ErrQueueFull means the job was admitted but this process cannot take
	// it right now. The caller releases the claim by failing the factory.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrRunnerClosed means the runner is shutting down.
	ErrRunnerClosed = errors.New("jobs: runner closed")
)

// Publisher is where the runner reports terminal job events.
type Publisher interface {
	Publish(ctx context.Context, channel events.Channel, name events.Name, payload any) error
}

// RunnerConfig assembles a Runner.
type RunnerConfig struct {
	Workers   int
	QueueSize int
	Admission *admission.Controller
	Publisher Publisher
	Logger    *zerolog.Logger
}

// Runner executes admitted jobs on a fixed worker pool. Enqueue never
// blocks; a full queue is an error so the admission claim can be rolled
// back instead of stranding the job.
type Runner struct {
	queue   chan Job
	workers int

	admission *admission.Controller
	publisher Publisher
	logger    zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[Kind]HandlerFunc

	mu     sync.RWMutex
	closed bool

	g      errgroup.Group
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRunner panics on missing wiring; the pool does not start until Start.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Admission == nil {
		panic("jobs: RunnerConfig.Admission is required")
	}
	if cfg.Publisher == nil {
		panic("jobs: RunnerConfig.Publisher is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := log.WithComponent("jobs")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Runner{
		queue:     make(chan Job, cfg.QueueSize),
		workers:   cfg.Workers,
		admission: cfg.Admission,
		publisher: cfg.Publisher,
		logger:    logger,
		handlers:  make(map[Kind]HandlerFunc),
	}
}

// Register binds a handler to a kind. Registration is wiring; a duplicate
// or unknown kind is a programming error and panics.
func (r *Runner) Register(kind Kind, fn HandlerFunc) {
	if !kind.Valid() {
		panic(fmt.Sprintf("jobs: unknown kind %q", kind))
	}
	if fn == nil {
		panic(fmt.Sprintf("jobs: nil handler for kind %q", kind))
	}
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("jobs: handler for kind %q already registered", kind))
	}
	r.handlers[kind] = fn
}

// Start launches the worker pool. Workers drain the queue until Stop closes
// it; ctx bounds the handlers, not the pool lifetime.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel

		for i := 0; i < r.workers; i++ {
			r.g.Go(func() error {
				for job := range r.queue {
					r.run(runCtx, job)
				}
				return nil
			})
		}
		r.logger.Info().
			Str("event", "jobs.runner_started").
			Int("workers", r.workers).
			Int("queue_size", cap(r.queue)).
			Msg("worker pool started")
	})
}

// Stop cancels in-flight handlers, drains the queue, and waits for the
// workers. Queued jobs run against the canceled context, fail fast, and
// release their claims rather than holding them until the TTL.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		if r.cancel != nil {
			r.cancel()
		}
		close(r.queue)
		_ = r.g.Wait()

		metrics.SetJobQueueDepth(0)
		r.logger.Info().Str("event", "jobs.runner_stopped").Msg("worker pool stopped")
	})
}

// QueueStats reports current queue depth and capacity, for readiness
// probes.
func (r *Runner) QueueStats() (depth, capacity int) {
	return len(r.queue), cap(r.queue)
}

// Enqueue hands a job to the pool without blocking.
func (r *Runner) Enqueue(_ context.Context, job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRunnerClosed
	}
	select {
	case r.queue <- job:
		metrics.SetJobQueueDepth(float64(len(r.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	metrics.SetJobQueueDepth(float64(len(r.queue)))
	metrics.RecordJobStarted(string(job.Kind))
	start := time.Now()

	ctx, span := telemetry.Tracer("larder/jobs").Start(ctx, "job.run",
		trace.WithAttributes(telemetry.JobAttributes(string(job.Kind), job.ID)...))
	defer span.End()

	logger := r.logger.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldJobKind, string(job.Kind)).
		Logger()
	logger.Info().Str("event", "jobs.start").Msg("job started")

	comp, result, err := r.invoke(ctx, job)
	elapsed := time.Since(start)
	metrics.RecordJobCompleted(string(job.Kind), result, elapsed)
	span.SetAttributes(telemetry.JobResultAttributes(result, elapsed)...)

	// Claim cleanup runs on a bounded context detached from the pool: a
	// shutdown cancels handlers, not the release of their claims.
	cleanupCtx, cleanupDone := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cleanupDone()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logger.Error().
			Err(err).
			Str("event", "jobs.failed").
			Str("result", result).
			Dur("elapsed", elapsed).
			Msg("job failed")
		if relErr := r.admission.Release(cleanupCtx, job.Identity); relErr != nil {
			logger.Error().
				Err(relErr).
				Str("event", "jobs.release_failed").
				Msg("claim left to TTL")
		}
		channel, name := failureEvent(job.Kind)
		r.publish(ctx, &logger, channel, name, jobFailure{
			JobID:       job.ID,
			Kind:        string(job.Kind),
			Error:       err.Error(),
			URL:         job.Params.URL,
			RecipeID:    job.Params.RecipeID,
			HouseholdID: job.Params.HouseholdID,
		})
		return
	}

	if cerr := r.admission.Complete(cleanupCtx, job.Identity, comp.ResourceID); cerr != nil {
		logger.Error().
			Err(cerr).
			Str("event", "jobs.complete_failed").
			Msg("claim left to TTL")
	}
	if comp.Channel != "" {
		r.publish(ctx, &logger, comp.Channel, comp.Name, comp.Payload)
	}
	logger.Info().
		Str("event", "jobs.success").
		Str("resource_id", comp.ResourceID).
		Dur("elapsed", elapsed).
		Msg("job finished")
}

// invoke runs the handler with panic containment: a panicking handler fails
// its own job, never the worker.
func (r *Runner) invoke(ctx context.Context, job Job) (comp Completion, result string, err error) {
	r.handlersMu.RLock()
	fn, ok := r.handlers[job.Kind]
	r.handlersMu.RUnlock()
	if !ok {
		return Completion{}, "error", fmt.Errorf("no handler for kind %q", job.Kind)
	}

	defer func() {
		if rec := recover(); rec != nil {
			comp = Completion{}
			result = "panic"
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	comp, err = fn(ctx, job)
	if err != nil {
		return Completion{}, "error", err
	}
	return comp, "ok", nil
}

func (r *Runner) publish(ctx context.Context, logger *zerolog.Logger, channel events.Channel, name events.Name, payload any) {
	if err := r.publisher.Publish(ctx, channel, name, payload); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "jobs.publish_failed").
			Str(log.FieldChannel, string(channel)).
			Str(log.FieldEventName, string(name)).
			Msg("terminal event not published")
	}
}

type jobFailure struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	Error       string `json:"error"`
	URL         string `json:"url,omitempty"`
	RecipeID    string `json:"recipe_id,omitempty"`
	HouseholdID string `json:"household_id,omitempty"`
}

func failureEvent(kind Kind) (events.Channel, events.Name) {
	if kind == KindSyncCalDAV {
		return events.ChannelCalDAV, events.NameSyncFailed
	}
	return events.ChannelRecipes, events.NameImportFailed
}
