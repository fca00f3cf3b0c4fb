package transport

import "sync"

// Fanout distributes inbound messages to subscribers. Close waits for
// in-flight deliveries, so once it returns no further callbacks fire.
type Fanout struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	next   int
	closed bool
}

// Subscription detaches a handler from its fanout when unsubscribed.
type Subscription struct {
	fanout *Fanout
	id     int
	once   sync.Once
}

// NewFanout returns an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its detach handle. Handlers
// registered while the fan-out is closed become live on the next Reopen.
func (f *Fanout) Subscribe(h Handler) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	f.subs[id] = h
	return &Subscription{fanout: f, id: id}
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.fanout.mu.Lock()
		delete(s.fanout.subs, s.id)
		s.fanout.mu.Unlock()
	})
}

// Publish invokes every subscribed handler with the message. Handlers run
// on the caller's goroutine; one slow subscriber delays but never drops
// delivery for the others.
func (f *Fanout) Publish(msg Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	for _, h := range f.subs {
		h(msg)
	}
}

// Close drops all subscribers and stops delivery. It blocks until in-flight
// deliveries finish, guaranteeing no callback fires after it returns.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	f.subs = make(map[int]Handler)
	f.mu.Unlock()
}

// Reopen resumes delivery after a Close. Subscribers dropped by the Close
// stay dropped; ones registered since become live.
func (f *Fanout) Reopen() {
	f.mu.Lock()
	f.closed = false
	f.mu.Unlock()
}
