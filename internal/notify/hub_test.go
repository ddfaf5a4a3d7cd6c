package notify

import (
	"testing"
	"time"
)

func TestHub_BroadcastReachesAllObservers(t *testing.T) {
	h := NewHub(4)
	a, err := h.Register(4)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := h.Register(4)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := Event{Kind: EventKindCall, CallID: "c1", Status: "ringing", OccurredAt: time.Now()}
	h.Broadcast(ev)

	for _, o := range []*Observer{a, b} {
		select {
		case got := <-o.Events():
			if got.CallID != "c1" || got.Status != "ringing" {
				t.Fatalf("unexpected event: %+v", got)
			}
		default:
			t.Fatalf("expected buffered event")
		}
	}
}

func TestHub_SlowObserverIsSkippedNotBlocked(t *testing.T) {
	h := NewHub(4)
	o, err := h.Register(1)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h.Broadcast(Event{Kind: EventKindCall, CallID: "c1", Status: "ringing"})
	// Buffer is full now; the next broadcast must not block.
	done := make(chan struct{})
	go func() {
		h.Broadcast(Event{Kind: EventKindCall, CallID: "c1", Status: "completed"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a full observer")
	}
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", h.Dropped())
	}

	// The observer still sees the first event, in order.
	got := <-o.Events()
	if got.Status != "ringing" {
		t.Fatalf("expected first event preserved, got %+v", got)
	}
}

func TestHub_PerObserverOrderMatchesBroadcastOrder(t *testing.T) {
	h := NewHub(4)
	o, _ := h.Register(8)

	statuses := []string{"initiated", "ringing", "in_progress", "completed"}
	for _, s := range statuses {
		h.Broadcast(Event{Kind: EventKindCall, CallID: "c1", Status: s})
	}
	for _, want := range statuses {
		got := <-o.Events()
		if got.Status != want {
			t.Fatalf("out of order: want %q got %q", want, got.Status)
		}
	}
}

func TestHub_RegisterRespectsLimit(t *testing.T) {
	h := NewHub(1)
	if _, err := h.Register(1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.Register(1); err != ErrHubFull {
		t.Fatalf("expected ErrHubFull, got %v", err)
	}
}

func TestHub_UnregisterClosesChannelOnce(t *testing.T) {
	h := NewHub(4)
	o, _ := h.Register(1)
	h.Unregister(o)
	h.Unregister(o) // second call is a no-op

	if _, open := <-o.Events(); open {
		t.Fatalf("expected closed channel")
	}
	if h.Observers() != 0 {
		t.Fatalf("expected empty registry, got %d", h.Observers())
	}

	// Broadcast after unregister must not panic.
	h.Broadcast(Event{Kind: EventKindCall, CallID: "c1"})
}
