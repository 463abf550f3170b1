// SPDX-License-Identifier: MIT

package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrMediumClosed is returned by Publish after the loopback medium shut down.
var ErrMediumClosed = errors.New("broadcast: medium closed")

const loopbackBuffer = 1024

// LoopbackMedium is an in-process Medium for single-node deployments and
// tests. It preserves the round-trip contract: published messages reach
// subscribers asynchronously through a buffered queue, never via a direct
// handler call.
type LoopbackMedium struct {
	mu     sync.Mutex
	subs   []*loopbackListener
	closed bool
}

// NewLoopbackMedium creates an empty loopback medium.
func NewLoopbackMedium() *LoopbackMedium {
	return &LoopbackMedium{}
}

// Publish fans the payload out to all matching subscriptions. Publishing
// under the lock gives every subscriber the same total message order. Full
// subscriber queues drop, matching the lossy semantics of a real medium.
func (m *LoopbackMedium) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMediumClosed
	}
	for _, l := range m.subs {
		if !l.matches(topic) {
			continue
		}
		select {
		case l.ch <- Delivery{Topic: topic, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe registers a new listener for the given patterns.
func (m *LoopbackMedium) Subscribe(_ context.Context, patterns ...string) (Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMediumClosed
	}
	l := &loopbackListener{
		medium:   m,
		patterns: patterns,
		ch:       make(chan Delivery, loopbackBuffer),
	}
	m.subs = append(m.subs, l)
	return l, nil
}

// Close ends all subscriptions and rejects further publishes.
func (m *LoopbackMedium) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.closed = true
	m.mu.Unlock()

	for _, l := range subs {
		l.shut()
	}
}

func (m *LoopbackMedium) remove(target *loopbackListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.subs {
		if l == target {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

type loopbackListener struct {
	medium   *LoopbackMedium
	patterns []string
	ch       chan Delivery
	once     sync.Once
}

func (l *loopbackListener) C() <-chan Delivery { return l.ch }

func (l *loopbackListener) Close() error {
	l.medium.remove(l)
	l.shut()
	return nil
}

// shut closes the delivery channel exactly once. Callers must have removed
// the listener from the medium first; Publish holds the medium lock while
// sending, so after removal no send can race the close.
func (l *loopbackListener) shut() {
	l.once.Do(func() { close(l.ch) })
}

func (l *loopbackListener) matches(topic string) bool {
	for _, p := range l.patterns {
		if matchTopic(p, topic) {
			return true
		}
	}
	return false
}
