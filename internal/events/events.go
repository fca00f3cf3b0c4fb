// Package events provides the typed publish/subscribe bus used for pairing
// and transport lifecycle notifications. Subscriptions return an explicit
// handle; there is no global subscriber list.
package events

import (
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	PairingSuccess    Kind = "pairing-success"
	PairingTimeout    Kind = "pairing-timeout"
	PairingFailed     Kind = "pairing-failed"
	TransportError    Kind = "transport-error"
	TransportRecovery Kind = "transport-recovered"
	PeerRemoved       Kind = "peer-removed"
)

// Event is a single bus notification.
type Event struct {
	Kind      Kind
	PeerID    string
	Transport string
	Err       error
	Time      time.Time
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Subscription is a handle to an active subscription.
type Subscription struct {
	C      <-chan Event
	bus    *Bus
	id     int
	cancel sync.Once
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{C: ch, bus: b, id: id}
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.cancel.Do(func() {
		s.bus.mu.Lock()
		if ch, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(ch)
		}
		s.bus.mu.Unlock()
	})
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
