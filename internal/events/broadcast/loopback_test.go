// SPDX-License-Identifier: MIT

package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvDelivery(t *testing.T, lst Listener) Delivery {
	t.Helper()
	select {
	case d, ok := <-lst.C():
		if !ok {
			t.Fatal("listener channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func TestLoopbackRoundTrip(t *testing.T) {
	m := NewLoopbackMedium()
	defer m.Close()

	lst, err := m.Subscribe(context.Background(), "larder:events:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer lst.Close()

	if err := m.Publish(context.Background(), "larder:events:recipes", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d := recvDelivery(t, lst)
	if d.Topic != "larder:events:recipes" {
		t.Errorf("topic = %q", d.Topic)
	}
	if string(d.Payload) != `{"a":1}` {
		t.Errorf("payload = %q", d.Payload)
	}
}

func TestLoopbackPublisherReceivesOwnMessages(t *testing.T) {
	m := NewLoopbackMedium()
	defer m.Close()

	lst, err := m.Subscribe(context.Background(), "larder:events:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer lst.Close()

	// Same process publishes and subscribes; the medium must echo back.
	if err := m.Publish(context.Background(), "larder:events:ratings", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d := recvDelivery(t, lst)
	if d.Topic != "larder:events:ratings" {
		t.Errorf("topic = %q", d.Topic)
	}
}

func TestLoopbackPatternFiltering(t *testing.T) {
	m := NewLoopbackMedium()
	defer m.Close()

	invalidations, err := m.Subscribe(context.Background(), "larder:invalidate")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer invalidations.Close()

	if err := m.Publish(context.Background(), "larder:events:recipes", []byte("event")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := m.Publish(context.Background(), "larder:invalidate", []byte("kick")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d := recvDelivery(t, invalidations)
	if d.Topic != "larder:invalidate" || string(d.Payload) != "kick" {
		t.Errorf("got %q on %q, want the invalidation only", d.Payload, d.Topic)
	}
	select {
	case extra := <-invalidations.C():
		t.Errorf("unexpected extra delivery on %q", extra.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopbackFanOut(t *testing.T) {
	m := NewLoopbackMedium()
	defer m.Close()

	a, err := m.Subscribe(context.Background(), "t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer a.Close()
	b, err := m.Subscribe(context.Background(), "t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer b.Close()

	if err := m.Publish(context.Background(), "t", []byte("1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := recvDelivery(t, a); string(got.Payload) != "1" {
		t.Errorf("a got %q", got.Payload)
	}
	if got := recvDelivery(t, b); string(got.Payload) != "1" {
		t.Errorf("b got %q", got.Payload)
	}
}

func TestLoopbackListenerCloseEndsStream(t *testing.T) {
	m := NewLoopbackMedium()
	defer m.Close()

	lst, err := m.Subscribe(context.Background(), "t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := lst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-lst.C(); ok {
		t.Fatal("channel still open after Close")
	}
	if err := lst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Publishing after the listener left must not panic or deliver.
	if err := m.Publish(context.Background(), "t", []byte("late")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestLoopbackPublishAfterMediumClose(t *testing.T) {
	m := NewLoopbackMedium()
	lst, err := m.Subscribe(context.Background(), "t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.Close()

	if err := m.Publish(context.Background(), "t", []byte("x")); !errors.Is(err, ErrMediumClosed) {
		t.Errorf("Publish after close = %v, want ErrMediumClosed", err)
	}
	if _, err := m.Subscribe(context.Background(), "t"); !errors.Is(err, ErrMediumClosed) {
		t.Errorf("Subscribe after close = %v, want ErrMediumClosed", err)
	}
	if _, ok := <-lst.C(); ok {
		t.Fatal("listener channel still open after medium close")
	}
}
