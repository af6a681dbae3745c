package app

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/reconcile/internal/metrics"
	"github.com/raysh454/reconcile/internal/store"
)

type EventType string

const (
	EventVersion  EventType = "version"
	EventConflict EventType = "conflict"
	EventResolved EventType = "resolved"
)

// Event is published to the subscribers of a document. Version is set for version
// events, Conflict for conflict events and both for resolved events that committed.
type Event struct {
	Type       EventType             `json:"type"`
	DocumentID string                `json:"document_id"`
	Status     EditStatus            `json:"status,omitempty"`
	Version    *store.Version        `json:"version,omitempty"`
	Conflict   *store.ConflictRecord `json:"conflict,omitempty"`
	Time       time.Time             `json:"time"`
}

// Subscription receives the events of one document until it is closed.
type Subscription struct {
	ID         string
	DocumentID string
	Events     <-chan Event

	ch  chan Event
	hub *Hub
}

// Close unsubscribes and closes Events. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans events out to per-document subscribers. Delivery never blocks the
// publisher: an event is dropped for a subscriber whose buffer is full.
type Hub struct {
	buffer  int
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[string]map[string]*Subscription
	closed bool
}

func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer:  buffer,
		metrics: m,
		subs:    make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a subscriber for documentID. After Close on the hub it returns
// a subscription whose channel is already closed.
func (h *Hub) Subscribe(documentID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Events:     ch,
		ch:         ch,
		hub:        h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[string]*Subscription)
	}
	h.subs[documentID][sub.ID] = sub
	h.metrics.SubscriberDelta(1)
	return sub
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc := h.subs[s.DocumentID]
	if _, ok := doc[s.ID]; !ok {
		return
	}
	delete(doc, s.ID)
	if len(doc) == 0 {
		delete(h.subs, s.DocumentID)
	}
	close(s.ch)
	h.metrics.SubscriberDelta(-1)
}

// Publish delivers ev to every subscriber of ev.DocumentID and returns how many
// received it.
func (h *Hub) Publish(ev Event) int {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, sub := range h.subs[ev.DocumentID] {
		// Non-blocking send; drop if buffer is full.
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions for documentID.
func (h *Hub) Subscribers(documentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[documentID])
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, doc := range h.subs {
		for _, sub := range doc {
			close(sub.ch)
			h.metrics.SubscriberDelta(-1)
		}
	}
	h.subs = make(map[string]map[string]*Subscription)
}
