// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/events/broadcast"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
)

// Invalidation tells every process to drop a user's live connections. The
// client reconnects, re-authenticates, and arrives with fresh grants.
type Invalidation struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

var errStreamClosed = errors.New("invalidation stream closed")

// Invalidator publishes session invalidations and, through Run, applies
// incoming ones to the local registry. It rides the same medium as event
// broadcast but on its own topic, so a flood of events can never crowd out
// a security-relevant disconnect.
type Invalidator struct {
	medium   broadcast.Medium
	topic    string
	registry *Registry
	logger   zerolog.Logger
}

// NewInvalidator binds an invalidator to the medium's invalidation topic.
func NewInvalidator(medium broadcast.Medium, prefix string, registry *Registry, logger *zerolog.Logger) *Invalidator {
	if medium == nil {
		panic("realtime: NewInvalidator requires a Medium")
	}
	if registry == nil {
		panic("realtime: NewInvalidator requires a Registry")
	}
	l := log.WithComponent("invalidate")
	if logger != nil {
		l = *logger
	}
	return &Invalidator{
		medium:   medium,
		topic:    broadcast.InvalidationTopic(prefix),
		registry: registry,
		logger:   l,
	}
}

// Invalidate publishes a disconnect order for all of a user's connections,
// across every process sharing the medium. Local connections are not
// short-circuited; they drop when the message comes back around, like
// everyone else's.
func (inv *Invalidator) Invalidate(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return errors.New("invalidate: user id is required")
	}
	payload, err := json.Marshal(Invalidation{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := inv.medium.Publish(ctx, inv.topic, payload); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	metrics.IncInvalidationSent()
	inv.logger.Info().
		Str("event", "invalidate.sent").
		Str(log.FieldUserID, userID).
		Str(log.FieldReason, reason).
		Msg("published session invalidation")
	return nil
}

// Run consumes the invalidation topic until ctx is cancelled. The listener
// outlives lost subscriptions and panics in message handling alike: each
// failure restarts the cycle after a capped backoff, and a cycle that
// carried traffic earns a fresh backoff.
func (inv *Invalidator) Run(ctx context.Context) error {
	attempt := 0
	for {
		handled, err := inv.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if handled > 0 {
			attempt = 0
		}
		attempt++
		delay := broadcast.RetryDelay(attempt)
		inv.logger.Warn().
			Err(err).
			Str("event", "invalidate.stream_lost").
			Str(log.FieldTopic, inv.topic).
			Dur("retry_in", delay).
			Msg("invalidation listener stopped, restarting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeOnce runs one subscribe/consume cycle and reports how many
// messages it handled before the stream ended.
func (inv *Invalidator) consumeOnce(ctx context.Context) (handled int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalidation listener panic: %v", r)
		}
	}()

	lst, err := inv.medium.Subscribe(ctx, inv.topic)
	if err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", inv.topic, err)
	}
	defer func() { _ = lst.Close() }()

	inv.logger.Info().
		Str("event", "invalidate.listening").
		Str(log.FieldTopic, inv.topic).
		Msg("listening for invalidations")

	for {
		select {
		case <-ctx.Done():
			return handled, ctx.Err()
		case d, ok := <-lst.C():
			if !ok {
				return handled, errStreamClosed
			}
			inv.handle(d)
			handled++
		}
	}
}

func (inv *Invalidator) handle(d broadcast.Delivery) {
	var msg Invalidation
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		inv.logger.Warn().
			Err(err).
			Str("event", "invalidate.decode_failed").
			Str(log.FieldTopic, d.Topic).
			Msg("dropping undecodable invalidation")
		return
	}
	if msg.UserID == "" {
		inv.logger.Warn().
			Str("event", "invalidate.missing_user").
			Str(log.FieldTopic, d.Topic).
			Msg("dropping invalidation without user id")
		return
	}

	reason := msg.Reason
	if reason == "" {
		reason = "session invalidated"
	}
	if n := inv.registry.Terminate(msg.UserID, reason); n > 0 {
		metrics.IncInvalidationApplied("terminated")
	} else {
		metrics.IncInvalidationApplied("no_connections")
	}
}
