// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
)

// Handler consumes one event. The context is the bus lifecycle context and
// is cancelled when the bus shuts down. Handlers run on a dedicated
// goroutine per subscription, one event at a time, in arrival order.
type Handler func(ctx context.Context, evt Event)

// Broadcaster hands a published event to the cross-process medium. The bus
// never delivers locally on publish; events come back through Deliver once
// the medium echoes them, so every process (publisher included) observes the
// same stream.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt Event) error
}

// Options configures a Bus.
type Options struct {
	// Origin names this process instance and stamps every published event.
	Origin string
	// Broadcaster carries published events to all processes. Required.
	Broadcaster Broadcaster
	// Buffer is the per-subscription queue depth. Events beyond it are
	// dropped for that subscriber only. Defaults to 64.
	Buffer int
	// Logger defaults to a component logger when nil.
	Logger *zerolog.Logger
}

type subKey struct {
	channel Channel
	name    Name
}

// Bus is the process-local fanout. Subscriptions are keyed by exact
// (channel, event name) pairs.
type Bus struct {
	origin string
	bcast  Broadcaster
	buffer int
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[subKey][]*Subscription
	closed bool
}

// NewBus creates a bus. It owns no goroutines until the first Subscribe.
func NewBus(opts Options) *Bus {
	if opts.Broadcaster == nil {
		panic("events: NewBus requires a Broadcaster")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	logger := log.WithComponent("bus")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		origin: opts.Origin,
		bcast:  opts.Broadcaster,
		buffer: buffer,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[subKey][]*Subscription),
	}
}

// Publish serializes the payload once and hands the event to the broadcast
// medium. It never blocks on subscribers. Publishing an unregistered
// (channel, name) pair panics: that is a programming error, not input.
//
// The returned error reports a payload that cannot be serialized or a medium
// that rejected the envelope. Distribution stays lossy either way; callers
// that do not care may ignore it.
func (b *Bus) Publish(ctx context.Context, channel Channel, name Name, payload any) error {
	mustValidPair(channel, name)

	raw, err := marshalPayload(payload)
	if err != nil {
		metrics.IncEventDropped(string(channel), "marshal")
		b.logger.Error().
			Err(err).
			Str("event", "bus.publish_failed").
			Str(log.FieldChannel, string(channel)).
			Str(log.FieldEventName, string(name)).
			Msg("payload not serializable")
		return fmt.Errorf("marshal payload for %s/%s: %w", channel, name, err)
	}

	evt := Event{
		Channel:   channel,
		Name:      name,
		Payload:   raw,
		MessageID: uuid.NewString(),
		OriginID:  b.origin,
		At:        time.Now().UTC(),
	}

	if err := b.bcast.Broadcast(ctx, evt); err != nil {
		metrics.IncEventDropped(string(channel), "broadcast")
		b.logger.Error().
			Err(err).
			Str("event", "bus.broadcast_failed").
			Str(log.FieldChannel, string(channel)).
			Str(log.FieldEventName, string(name)).
			Str(log.FieldMessageID, evt.MessageID).
			Msg("event lost, medium rejected envelope")
		return fmt.Errorf("broadcast %s/%s: %w", channel, name, err)
	}

	metrics.IncEventPublished(string(channel), string(name))
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

// Subscribe registers a handler for one (channel, name) pair. Each
// subscription gets its own queue and dispatch goroutine, so one slow
// handler cannot stall the others.
func (b *Bus) Subscribe(channel Channel, name Name, fn Handler) *Subscription {
	mustValidPair(channel, name)
	if fn == nil {
		panic("events: Subscribe requires a handler")
	}

	s := &Subscription{
		bus:     b,
		channel: channel,
		name:    name,
		fn:      fn,
		queue:   make(chan Event, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		close(s.done)
		return s
	}
	key := subKey{channel, name}
	b.subs[key] = append(b.subs[key], s)
	b.mu.Unlock()

	metrics.EventSubscriptions.Inc()
	go s.dispatch()
	return s
}

// Deliver fans an event out to local subscribers. It is called by the
// broadcast listener for every envelope arriving from the medium, including
// this process's own. Sends never block; a full subscriber queue drops the
// event for that subscriber and counts it.
func (b *Bus) Deliver(_ context.Context, evt Event) {
	if !evt.Channel.Has(evt.Name) {
		metrics.IncEventDropped(string(evt.Channel), "unregistered")
		b.logger.Warn().
			Str("event", "bus.deliver_rejected").
			Str(log.FieldChannel, string(evt.Channel)).
			Str(log.FieldEventName, string(evt.Name)).
			Str(log.FieldOriginID, evt.OriginID).
			Msg("dropping envelope with unregistered channel or event name")
		return
	}

	b.mu.RLock()
	subs := b.subs[subKey{evt.Channel, evt.Name}]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.offer(evt)
	}
}

// Close tears down all subscriptions and waits for their dispatch goroutines
// to drain. The bus is unusable afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[subKey][]*Subscription)
	b.mu.Unlock()

	metrics.EventSubscriptions.Sub(float64(len(all)))
	b.cancel()
	for _, s := range all {
		s.close()
		<-s.done
	}
}

// Subscription is one registered handler. Unsubscribe is idempotent and safe
// to call from any goroutine, including the handler itself.
type Subscription struct {
	bus     *Bus
	channel Channel
	name    Name
	fn      Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() Channel { return s.channel }

// Name returns the subscribed event name.
func (s *Subscription) Name() Name { return s.name }

// Unsubscribe removes the subscription and stops its dispatch goroutine
// after the queue drains. It does not wait for in-flight handler calls.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.close()
}

// Done is closed once the dispatch goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.queue)
	})
}

// offer enqueues without blocking. A concurrent Unsubscribe may have closed
// the queue; the recover makes that race harmless.
func (s *Subscription) offer(evt Event) {
	defer func() { _ = recover() }()
	select {
	case s.queue <- evt:
	default:
		metrics.IncEventDropped(string(evt.Channel), "overflow")
		s.bus.logger.Warn().
			Str("event", "bus.subscriber_overflow").
			Str(log.FieldChannel, string(evt.Channel)).
			Str(log.FieldEventName, string(evt.Name)).
			Str(log.FieldMessageID, evt.MessageID).
			Msg("subscriber queue full, event dropped for this subscriber")
	}
}

func (s *Subscription) dispatch() {
	defer close(s.done)
	for evt := range s.queue {
		s.invoke(evt)
	}
}

func (s *Subscription) invoke(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncHandlerPanic(string(evt.Channel))
			s.bus.logger.Error().
				Str("event", "bus.handler_panic").
				Str(log.FieldChannel, string(evt.Channel)).
				Str(log.FieldEventName, string(evt.Name)).
				Str(log.FieldMessageID, evt.MessageID).
				Interface("panic", r).
				Msg("subscription handler panicked")
		}
	}()
	s.fn(s.bus.ctx, evt)
	metrics.IncEventDelivered(string(evt.Channel), string(evt.Name))
}

// remove detaches s from the bus without touching its queue.
func (b *Bus) remove(s *Subscription) {
	key := subKey{s.channel, s.name}

	b.mu.Lock()
	subs := b.subs[key]
	for i, cur := range subs {
		if cur == s {
			subs = append(subs[:i], subs[i+1:]...)
			metrics.EventSubscriptions.Dec()
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	} else {
		b.subs[key] = subs
	}
	b.mu.Unlock()
}
