// SPDX-License-Identifier: MIT

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
)

// LocalBus is the delivery side of the in-process bus.
type LocalBus interface {
	Deliver(ctx context.Context, evt events.Event)
}

// Broadcaster carries bus events across processes. Its Broadcast method is
// the bus's outbound path; its Run loop is the inbound path, feeding every
// envelope from the medium into the sink (the local bus). The sink is a Run
// argument because the bus and the broadcaster reference each other.
type Broadcaster struct {
	medium Medium
	prefix string
	logger zerolog.Logger
}

// New creates a broadcaster bound to a topic prefix.
func New(medium Medium, prefix string, logger *zerolog.Logger) *Broadcaster {
	l := log.WithComponent("broadcast")
	if logger != nil {
		l = *logger
	}
	return &Broadcaster{medium: medium, prefix: prefix, logger: l}
}

// Broadcast encodes the event and publishes it to the channel's topic.
func (b *Broadcaster) Broadcast(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		metrics.IncBroadcastError("encode")
		return fmt.Errorf("encode envelope: %w", err)
	}
	topic := EventTopic(b.prefix, evt.Channel)
	if err := b.medium.Publish(ctx, topic, payload); err != nil {
		metrics.IncBroadcastError("publish")
		return err
	}
	metrics.IncBroadcastSent(string(evt.Channel))
	return nil
}

// Run subscribes to all event topics under the prefix and pumps envelopes
// into sink until ctx is cancelled. Lost subscriptions are retried with
// capped backoff; events published during an outage are not replayed.
func (b *Broadcaster) Run(ctx context.Context, sink LocalBus) error {
	pattern := EventPattern(b.prefix)
	attempt := 0

	for {
		lst, err := b.medium.Subscribe(ctx, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			metrics.IncBroadcastError("subscribe")
			delay := RetryDelay(attempt)
			b.logger.Warn().
				Err(err).
				Str("event", "broadcast.subscribe_failed").
				Str(log.FieldTopic, pattern).
				Dur("retry_in", delay).
				Msg("medium subscription failed, retrying")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.logger.Info().
			Str("event", "broadcast.listening").
			Str(log.FieldTopic, pattern).
			Msg("listening for envelopes")

		handled := b.consume(ctx, lst, sink)
		_ = lst.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A stream that carried traffic earns a fresh backoff; a stream
		// that died immediately keeps escalating.
		if handled > 0 {
			attempt = 0
		}
		attempt++
		metrics.IncBroadcastReconnect()
		delay := RetryDelay(attempt)
		b.logger.Warn().
			Str("event", "broadcast.stream_lost").
			Str(log.FieldTopic, pattern).
			Dur("retry_in", delay).
			Msg("medium stream ended, resubscribing")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume drains the listener until it closes or ctx is done, returning the
// number of envelopes handled.
func (b *Broadcaster) consume(ctx context.Context, lst Listener, sink LocalBus) int {
	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled
		case d, ok := <-lst.C():
			if !ok {
				return handled
			}
			b.handle(ctx, d, sink)
			handled++
		}
	}
}

func (b *Broadcaster) handle(ctx context.Context, d Delivery, sink LocalBus) {
	var evt events.Event
	if err := json.Unmarshal(d.Payload, &evt); err != nil {
		metrics.IncBroadcastError("decode")
		b.logger.Warn().
			Err(err).
			Str("event", "broadcast.decode_failed").
			Str(log.FieldTopic, d.Topic).
			Msg("dropping undecodable envelope")
		return
	}
	metrics.IncBroadcastReceived(string(evt.Channel))
	sink.Deliver(ctx, evt)
}
