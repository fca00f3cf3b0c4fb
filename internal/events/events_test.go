package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	defer sub.Unsubscribe()

	bus.Publish(Event{Kind: PairingSuccess, PeerID: "p1"})

	select {
	case ev := <-sub.C:
		if ev.Kind != PairingSuccess || ev.PeerID != "p1" {
			t.Errorf("got %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("event time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	sub.Unsubscribe()

	// Channel is closed on unsubscribe, so a receive returns immediately.
	if _, ok := <-sub.C; ok {
		t.Error("received an event after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Kind: TransportError})

	// Double unsubscribe is safe.
	sub.Unsubscribe()
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer sub.Unsubscribe()

	// Fill the buffer and keep publishing; the slow subscriber loses
	// events instead of stalling the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Kind: TransportError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	bus.Publish(Event{Kind: PeerRemoved, PeerID: "p1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C:
			if ev.PeerID != "p1" {
				t.Errorf("got %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
