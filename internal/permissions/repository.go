package permissions

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("permissions: not found")

// Repository is the persistence contract for call permissions.
//
// Update serializes concurrent mutations of one permission: the mutate
// function runs while the implementation holds the per-row scope
// (Postgres: SELECT ... FOR UPDATE inside a transaction; memory: a
// per-id mutex). Mutate functions must be pure over the passed value
// and must not call collaborators.
type Repository interface {
	Create(ctx context.Context, p CallPermission) error
	Get(ctx context.Context, id string) (CallPermission, error)

	// LatestPending returns the most recently requested pending
	// permission for a destination.
	LatestPending(ctx context.Context, destination string) (CallPermission, bool, error)

	// Approved returns the approved permission for (contact, destination),
	// of which there is at most one.
	Approved(ctx context.Context, contactID, destination string) (CallPermission, bool, error)

	Update(ctx context.Context, id string, mutate func(*CallPermission) error) (CallPermission, error)

	// ListOverdue returns pending or approved permissions whose
	// expires_at has passed, for the expiry sweep.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]CallPermission, error)
}
