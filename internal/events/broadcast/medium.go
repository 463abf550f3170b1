// SPDX-License-Identifier: MIT

// Package broadcast bridges the in-process bus across process boundaries
// through a shared pub/sub medium. Every published event makes a full round
// trip: out to the medium, back in through the listener, then into the local
// bus. The publishing process gets no shortcut, so all processes observe the
// same stream with the same gaps.
package broadcast

import (
	"context"
	"strings"
	"time"

	"github.com/larderhq/larder/internal/events"
)

// Delivery is one raw message received from the shared medium.
type Delivery struct {
	Topic   string
	Payload []byte
}

// Listener is an active subscription on the medium. C is closed when the
// subscription ends, whether by Close or by the medium going away.
type Listener interface {
	C() <-chan Delivery
	Close() error
}

// Medium is the shared pub/sub transport between processes. Implementations
// must deliver a published message to every active matching subscription,
// including subscriptions held by the publishing process itself.
type Medium interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, patterns ...string) (Listener, error)
}

// EventTopic is the medium topic for one channel's events.
func EventTopic(prefix string, c events.Channel) string {
	return prefix + ":events:" + string(c)
}

// EventPattern matches every event topic under the prefix.
func EventPattern(prefix string) string {
	return prefix + ":events:*"
}

// InvalidationTopic is the dedicated topic for session invalidations. It is
// deliberately outside the events namespace so the event listener never sees
// it.
func InvalidationTopic(prefix string) string {
	return prefix + ":invalidate"
}

// RetryDelay returns the wait before reconnect attempt n (1-based),
// quadratic and capped so a long outage cannot grow the delay unbounded.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt*attempt) * 250 * time.Millisecond
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// matchTopic implements the single-star glob used by medium patterns.
// "larder:events:*" matches every event topic; a pattern without a star
// requires equality.
func matchTopic(pattern, topic string) bool {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern == topic
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(topic) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(topic, prefix) &&
		strings.HasSuffix(topic, suffix)
}
