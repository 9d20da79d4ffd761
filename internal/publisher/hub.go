// Package publisher fans aggregation updates out to live subscribers. The
// notification stream is best-effort: slow consumers are disconnected
// rather than allowed to stall the pipeline, and reconnecting clients
// re-read current state from the snapshot endpoint.
package publisher

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/metrics"
)

// Subscriber is one registered consumer of the update stream. Its channel
// is closed by the hub on unsubscribe, overflow, or shutdown.
type Subscriber struct {
	id string
	ch chan aggregation.Update
}

// ID returns the subscriber's hub-assigned identifier.
func (s *Subscriber) ID() string { return s.id }

// Updates is the subscriber's receive channel. A closed channel means the
// hub dropped the subscription; the reader should resync from a snapshot.
func (s *Subscriber) Updates() <-chan aggregation.Update { return s.ch }

// Hub delivers every published update to every subscriber through a
// bounded per-subscriber buffer. Publish never blocks: a subscriber whose
// buffer is full is dropped on the spot.
type Hub struct {
	bufferSize int

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool
}

// NewHub creates a hub whose subscribers each buffer up to bufferSize
// undelivered updates.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		bufferSize:  bufferSize,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. Returns nil after Close.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	s := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan aggregation.Update, h.bufferSize),
	}
	h.subscribers[s.id] = s
	slog.Info("[Publisher] Subscriber registered", "id", s.id, "total", len(h.subscribers))
	return s
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once and after the hub already dropped the subscriber.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s.id, false)
}

// Publish delivers the update to every subscriber without blocking.
// A subscriber that cannot absorb it loses its subscription; the
// pipeline never waits.
func (h *Hub) Publish(u aggregation.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	metrics.UpdatesPublished.Inc()

	for id, s := range h.subscribers {
		select {
		case s.ch <- u:
		default:
			h.dropLocked(id, true)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close drops every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subscribers {
		h.dropLocked(id, false)
	}
}

func (h *Hub) dropLocked(id string, overflow bool) {
	s, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(s.ch)
	if overflow {
		metrics.SubscribersDropped.Inc()
		slog.Warn("[Publisher] Subscriber dropped (buffer full)",
			"id", id, "buffer_size", h.bufferSize)
		return
	}
	slog.Info("[Publisher] Subscriber removed", "id", id, "total", len(h.subscribers))
}
