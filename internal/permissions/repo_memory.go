package permissions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	perms map[string]CallPermission
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{perms: make(map[string]CallPermission)}
}

func (r *MemoryRepo) Create(ctx context.Context, p CallPermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perms[p.ID] = p
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.perms[id]
	if !ok {
		return CallPermission{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) LatestPending(ctx context.Context, destination string) (CallPermission, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out CallPermission
	found := false
	for _, p := range r.perms {
		if p.Destination != destination || p.Status != StatusPending {
			continue
		}
		if !found || p.RequestedAt.After(out.RequestedAt) {
			out = p
			found = true
		}
	}
	return out, found, nil
}

func (r *MemoryRepo) Approved(ctx context.Context, contactID, destination string) (CallPermission, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.perms {
		if p.ContactID == contactID && p.Destination == destination && p.Status == StatusApproved {
			return p, true, nil
		}
	}
	return CallPermission{}, false, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, mutate func(*CallPermission) error) (CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.perms[id]
	if !ok {
		return CallPermission{}, ErrNotFound
	}
	if err := mutate(&p); err != nil {
		return CallPermission{}, err
	}
	p.UpdatedAt = time.Now().UTC()
	r.perms[id] = p
	return p, nil
}

func (r *MemoryRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]CallPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallPermission
	for _, p := range r.perms {
		if (p.Status == StatusPending || p.Status == StatusApproved) && !now.Before(p.ExpiresAt) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
