package events

import (
	"testing"
	"time"
)

func recvOne(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish("config.updated", map[string]any{"device": "esp-000"})

	for _, sub := range []*Subscription{a, b} {
		ev := recvOne(t, sub)
		if ev.Type != "config.updated" {
			t.Fatalf("type = %s", ev.Type)
		}
		if ev.Payload["device"] != "esp-000" {
			t.Fatalf("payload = %v", ev.Payload)
		}
		if ev.At.IsZero() {
			t.Fatalf("event not stamped")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe(1)
	fast := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish("e", nil)
		bus.Publish("e", nil)
		bus.Publish("e", nil)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}

	if got := bus.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	// The fast subscriber saw everything.
	for i := 0; i < 3; i++ {
		recvOne(t, fast)
	}
	// The slow one kept exactly its buffer.
	recvOne(t, slow)
	select {
	case ev := <-slow.C():
		t.Fatalf("unexpected extra event %v", ev)
	default:
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(4)
	other := bus.Subscribe(4)

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("channel still open after Close")
	}

	bus.Publish("e", nil)
	recvOne(t, other)

	// Closing twice is fine.
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBusCloseStopsEverything(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)

	bus.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscription survived bus close")
	}

	// No panics after close.
	bus.Publish("e", nil)
	bus.Close()

	late := bus.Subscribe(4)
	if _, ok := <-late.C(); ok {
		t.Fatalf("subscription on closed bus must be closed")
	}
}
