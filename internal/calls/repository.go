package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("calls: not found")

	// ErrDuplicateExternalID means a call with this provider call id
	// already exists.
	ErrDuplicateExternalID = errors.New("calls: duplicate provider call id")

	// ErrDuplicateEvent means this external event id was already recorded
	// for the call; the delivery is a replay.
	ErrDuplicateEvent = errors.New("calls: duplicate event")
)

// Repository is the persistence contract for calls and their event log.
//
// Update serializes concurrent mutations of one call: the mutate function
// runs while the implementation holds the per-row scope (Postgres:
// SELECT ... FOR UPDATE inside a transaction; memory: a registry mutex).
// Mutate functions must not call collaborators.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)
	GetBySession(ctx context.Context, sessionName string) (Call, error)

	Update(ctx context.Context, id string, mutate func(*Call) error) (Call, error)

	// SetProviderCallID fills the provider id exactly once; it fails with
	// ErrDuplicateExternalID if another call already carries the id.
	SetProviderCallID(ctx context.Context, id, providerCallID string) (Call, error)

	// AppendEvent writes one log entry. Entries with a non-empty
	// ExternalEventID are unique per call; a replay fails with
	// ErrDuplicateEvent and writes nothing.
	AppendEvent(ctx context.Context, e CallEvent) error
	ListEvents(ctx context.Context, callID string) ([]CallEvent, error)
}
