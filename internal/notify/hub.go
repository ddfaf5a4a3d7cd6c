package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is the digest broadcast to live observers after a state change.
// It carries identities and the resulting status, not full entities;
// observers fetch details through the API if they need them.
type Event struct {
	Kind         EventKind `json:"kind"`
	CallID       string    `json:"call_id,omitempty"`
	PermissionID string    `json:"permission_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type EventKind string

const (
	EventKindCall       EventKind = "call"
	EventKindPermission EventKind = "permission"
)

// Observer is one connected consumer (e.g., an agent console stream).
type Observer struct {
	id string
	ch chan Event
}

// Events is the observer's receive channel. It is closed on Unregister.
func (o *Observer) Events() <-chan Event { return o.ch }

// Hub is a bounded registry of live observers.
//
// Delivery is best-effort: Broadcast never blocks the mutation that
// triggered it. An observer whose buffer is full misses that event.
// Events reach each observer in the order Broadcast was called.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	max       int
	dropped   atomic.Int64
}

var ErrHubFull = errors.New("notify: observer limit reached")

func NewHub(maxObservers int) *Hub {
	if maxObservers <= 0 {
		maxObservers = 256
	}
	return &Hub{
		observers: make(map[string]*Observer),
		max:       maxObservers,
	}
}

// Register adds an observer with the given channel buffer.
func (h *Hub) Register(buffer int) (*Observer, error) {
	if buffer <= 0 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.observers) >= h.max {
		return nil, ErrHubFull
	}
	o := &Observer{id: uuid.NewString(), ch: make(chan Event, buffer)}
	h.observers[o.id] = o
	return o, nil
}

// Unregister removes the observer and closes its channel.
// Safe to call more than once.
func (h *Hub) Unregister(o *Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o.id]; !ok {
		return
	}
	delete(h.observers, o.id)
	close(o.ch)
}

// Broadcast delivers the event to every registered observer without blocking.
// Sends happen under the read lock so Unregister cannot close a channel
// mid-send.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		select {
		case o.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were skipped due to full observer buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Observers reports the current registry size.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
