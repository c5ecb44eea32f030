// Package broadcast fans each record read from the child's output out to
// every connected stream subscriber.
package broadcast

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the number of records a subscriber may lag behind before
// it is dropped.
const DefaultBuffer = 256

// Subscription is one registered output sink. Records arrive on C in publish
// order. Done is closed when the subscription is removed, either explicitly
// or because it could not keep up.
type Subscription struct {
	id   string
	ch   chan string
	done chan struct{}
	once sync.Once
}

// ID returns the opaque subscriber id.
func (s *Subscription) ID() string { return s.id }

// C returns the record channel.
func (s *Subscription) C() <-chan string { return s.ch }

// Done is closed once the subscription has been removed from its hub.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) stop() { s.once.Do(func() { close(s.done) }) }

// Hub holds the set of live subscribers. It is safe for concurrent use.
type Hub struct {
	log    *slog.Logger
	buffer int
	onDrop func(id string)

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook registers fn to be called whenever a subscriber is dropped
// for falling behind.
func WithDropHook(fn func(id string)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub constructs an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		buffer: DefaultBuffer,
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:   uuid.NewString(),
		ch:   make(chan string, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.log.Debug("hub.subscribe", slog.String("sub", sub.id))
	return sub
}

// Unsubscribe removes the subscriber with the given id. Unknown ids are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.stop()
		h.log.Debug("hub.unsubscribe", slog.String("sub", id))
	}
}

// Publish delivers record to every subscriber without blocking. A subscriber
// whose buffer is full is removed; the rest still receive the record.
func (h *Hub) Publish(record string) {
	var dropped []*Subscription

	h.mu.Lock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- record:
		default:
			delete(h.subs, id)
			dropped = append(dropped, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		sub.stop()
		h.log.Warn("hub.subscriber.dropped", slog.String("sub", sub.id))
		if h.onDrop != nil {
			h.onDrop(sub.id)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
