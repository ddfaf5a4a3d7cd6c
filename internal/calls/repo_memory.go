package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu         sync.Mutex
	calls      map[string]Call
	byProvider map[string]string // provider call id -> call id
	events     map[string][]CallEvent
	seen       map[string]map[string]struct{} // call id -> external event ids
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:      make(map[string]Call),
		byProvider: make(map[string]string),
		events:     make(map[string][]CallEvent),
		seen:       make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ProviderCallID != "" {
		if _, exists := r.byProvider[c.ProviderCallID]; exists {
			return ErrDuplicateExternalID
		}
		r.byProvider[c.ProviderCallID] = c.ID
	}
	r.calls[c.ID] = cloneCall(c)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(r.calls[id]), nil
}

func (r *MemoryRepo) GetBySession(ctx context.Context, sessionName string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.SessionName == sessionName {
			return cloneCall(c), nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) Update(ctx context.Context, id string, mutate func(*Call) error) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	cp := cloneCall(c)
	if err := mutate(&cp); err != nil {
		return Call{}, err
	}
	// The provider id is immutable through Update; SetProviderCallID is
	// the only writer.
	cp.ProviderCallID = c.ProviderCallID
	cp.UpdatedAt = time.Now().UTC()
	r.calls[id] = cp
	return cloneCall(cp), nil
}

func (r *MemoryRepo) SetProviderCallID(ctx context.Context, id, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.ProviderCallID == providerCallID {
		return cloneCall(c), nil
	}
	if c.ProviderCallID != "" {
		return Call{}, ErrDuplicateExternalID
	}
	if _, exists := r.byProvider[providerCallID]; exists {
		return Call{}, ErrDuplicateExternalID
	}
	c.ProviderCallID = providerCallID
	c.UpdatedAt = time.Now().UTC()
	r.calls[id] = c
	r.byProvider[providerCallID] = id
	return cloneCall(c), nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[e.CallID]; !ok {
		return ErrNotFound
	}
	if e.ExternalEventID != "" {
		ids := r.seen[e.CallID]
		if ids == nil {
			ids = make(map[string]struct{})
			r.seen[e.CallID] = ids
		}
		if _, dup := ids[e.ExternalEventID]; dup {
			return ErrDuplicateEvent
		}
		ids[e.ExternalEventID] = struct{}{}
	}
	r.events[e.CallID] = append(r.events[e.CallID], e)
	return nil
}

func (r *MemoryRepo) ListEvents(ctx context.Context, callID string) ([]CallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[callID]
	out := make([]CallEvent, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneCall(c Call) Call {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return out
}
