// SPDX-License-Identifier: MIT

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
)

// RedisMedium implements Medium on Redis pub/sub. go-redis already
// reconnects the underlying subscription connection; the listener channel
// stays open across those reconnects, and messages published while the
// connection was down are simply gone, which is the documented semantics of
// this layer.
type RedisMedium struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisMedium wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisMedium(client *redis.Client, logger *zerolog.Logger) *RedisMedium {
	l := log.WithComponent("broadcast.redis")
	if logger != nil {
		l = *logger
	}
	return &RedisMedium{client: client, logger: l}
}

// Publish sends one message to a topic.
func (m *RedisMedium) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := m.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a pattern subscription. The returned listener's channel
// closes when the listener is closed.
func (m *RedisMedium) Subscribe(ctx context.Context, patterns ...string) (Listener, error) {
	ps := m.client.PSubscribe(ctx, patterns...)

	// Force the subscription round trip now so a dead Redis surfaces here
	// instead of as a silent never-delivering listener.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe %v: %w", patterns, err)
	}

	l := &redisListener{
		ps:   ps,
		ch:   make(chan Delivery, 256),
		quit: make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

type redisListener struct {
	ps   *redis.PubSub
	ch   chan Delivery
	quit chan struct{}
	once sync.Once
}

func (l *redisListener) C() <-chan Delivery { return l.ch }

func (l *redisListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.quit)
		err = l.ps.Close()
	})
	return err
}

// pump adapts the go-redis message channel. The quit select keeps Close from
// leaking a pump blocked on a consumer that already went away.
func (l *redisListener) pump() {
	defer close(l.ch)
	for msg := range l.ps.Channel() {
		select {
		case l.ch <- Delivery{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-l.quit:
			return
		}
	}
}
