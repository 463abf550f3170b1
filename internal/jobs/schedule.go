// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/log"
)

// DefaultSyncWindow is the bucket size for sync admission fingerprints.
const DefaultSyncWindow = 15 * time.Minute

// SyncWindow buckets t into the admission fingerprint shared by every
// producer. Scheduled ticks and manual sync requests that land in the same
// window form one identity, so only the first runs.
func SyncWindow(t time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultSyncWindow
	}
	return t.UTC().Truncate(window).Format("2006-01-02T15:04")
}

// SchedulerConfig assembles the periodic CalDAV sync producer.
type SchedulerConfig struct {
	// Spec is a cron expression; five-field specs and descriptors like
	// "@every 15m" both parse.
	Spec string
	// Sources maps household id to its calendar URL.
	Sources map[string]string
	// Window buckets ticks into admission fingerprints. Every process
	// computes the same bucket for the same wall-clock window, so syncs
	// dedupe across processes even when their crons started at different
	// times. Defaults to 15 minutes.
	Window    time.Duration
	Admission *admission.Controller
	Runner    *Runner
	Logger    *zerolog.Logger
}

// Scheduler ticks on the configured cron and offers one sync per household
// per window to the admission controller. Losing a tick is normal: some
// other process won it.
type Scheduler struct {
	sources   map[string]string
	window    time.Duration
	admission *admission.Controller
	runner    *Runner
	logger    zerolog.Logger
	c         *cron.Cron
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Admission == nil {
		panic("jobs: SchedulerConfig.Admission is required")
	}
	if cfg.Runner == nil {
		panic("jobs: SchedulerConfig.Runner is required")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultSyncWindow
	}
	logger := log.WithComponent("schedule")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Scheduler{
		sources:   cfg.Sources,
		window:    window,
		admission: cfg.Admission,
		runner:    cfg.Runner,
		logger:    logger,
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser))
	if _, err := s.c.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("cron spec %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
	s.logger.Info().
		Str("event", "schedule.started").
		Int("households", len(s.sources)).
		Dur("window", s.window).
		Msg("caldav sync schedule started")
}

// Stop waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
	s.logger.Info().Str("event", "schedule.stopped").Msg("caldav sync schedule stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	window := SyncWindow(time.Now(), s.window)
	for household, calURL := range s.sources {
		s.admitSync(ctx, household, calURL, window)
	}
}

func (s *Scheduler) admitSync(ctx context.Context, household, calURL, window string) {
	id := admission.Identity{Kind: string(KindSyncCalDAV), Target: household, Fingerprint: window}
	dec, err := s.admission.TryAdmit(ctx, id, func(ctx context.Context, jobID string) error {
		return s.runner.Enqueue(ctx, Job{
			ID:       jobID,
			Kind:     KindSyncCalDAV,
			Identity: id,
			Params:   Params{HouseholdID: household, CalendarURL: calURL},
		})
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", "schedule.admit_failed").
			Str(log.FieldHouseholdID, household).
			Msg("sync not admitted")
		return
	}

	s.logger.Debug().
		Str("event", "schedule.tick").
		Str(log.FieldHouseholdID, household).
		Str(log.FieldOutcome, string(dec.Outcome)).
		Str("window", window).
		Msg("sync admission decided")
}
