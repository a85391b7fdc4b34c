// Package events is the in-process notification fabric between the delivery
// engine and its observers (SSE/WebSocket streams, NATS mirror, tests).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dashmaster_events_dropped_total",
	Help: "Events lost to full subscriber buffers.",
})

// Event is one engine notification. At is stamped at publish time.
type Event struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// Subscription is one observer's feed. Close detaches it from the bus and
// closes the channel.
type Subscription struct {
	bus *Bus
	ch  chan Event

	mu     sync.Mutex
	closed bool
}

// C returns the receive channel. It is closed when the subscription or the
// bus closes.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.remove(s)
	return nil
}

// Bus fans events out to every current subscriber. Delivery never blocks: a
// subscriber whose buffer is full misses that event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new observer with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish stamps and delivers the event to every subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			droppedEventsTotal.Inc()
		}
	}
}

// Dropped reports how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close detaches and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
