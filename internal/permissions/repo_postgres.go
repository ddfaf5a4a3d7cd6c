package permissions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbridge/pkg/utils"
)

// PostgresRepo persists permissions in the call_permissions table.
// The approved-uniqueness invariant is backed by a partial unique index:
// UNIQUE (contact_id, destination) WHERE status = 'approved'.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const permissionColumns = `
id, contact_id, destination, status, requested_at, responded_at, expires_at,
calls_used, max_calls, consecutive_missed, message_id, created_at, updated_at
`

func scanPermission(row *sql.Row) (CallPermission, error) {
	var p CallPermission
	var responded sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.ContactID,
		&p.Destination,
		&p.Status,
		&p.RequestedAt,
		&responded,
		&p.ExpiresAt,
		&p.CallsUsed,
		&p.MaxCalls,
		&p.ConsecutiveMissed,
		&p.MessageID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return CallPermission{}, err
	}
	if responded.Valid {
		t := responded.Time
		p.RespondedAt = &t
	}
	return p, nil
}

func (r *PostgresRepo) Create(ctx context.Context, p CallPermission) error {
	const q = `
INSERT INTO call_permissions (
  id, contact_id, destination, status, requested_at, responded_at, expires_at,
  calls_used, max_calls, consecutive_missed, message_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := r.db.ExecContext(ctx, q,
		p.ID,
		p.ContactID,
		p.Destination,
		p.Status,
		p.RequestedAt,
		nullTime(p.RespondedAt),
		p.ExpiresAt,
		p.CallsUsed,
		p.MaxCalls,
		p.ConsecutiveMissed,
		p.MessageID,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallPermission, error) {
	const q = `SELECT ` + permissionColumns + ` FROM call_permissions WHERE id = $1`
	p, err := scanPermission(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallPermission{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) LatestPending(ctx context.Context, destination string) (CallPermission, bool, error) {
	const q = `
SELECT ` + permissionColumns + `
FROM call_permissions
WHERE destination = $1 AND status = 'pending'
ORDER BY requested_at DESC
LIMIT 1
`
	p, err := scanPermission(r.db.QueryRowContext(ctx, q, destination))
	if errors.Is(err, sql.ErrNoRows) {
		return CallPermission{}, false, nil
	}
	if err != nil {
		return CallPermission{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) Approved(ctx context.Context, contactID, destination string) (CallPermission, bool, error) {
	const q = `
SELECT ` + permissionColumns + `
FROM call_permissions
WHERE contact_id = $1 AND destination = $2 AND status = 'approved'
LIMIT 1
`
	p, err := scanPermission(r.db.QueryRowContext(ctx, q, contactID, destination))
	if errors.Is(err, sql.ErrNoRows) {
		return CallPermission{}, false, nil
	}
	if err != nil {
		return CallPermission{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*CallPermission) error) (CallPermission, error) {
	var out CallPermission
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + permissionColumns + ` FROM call_permissions WHERE id = $1 FOR UPDATE`
		p, err := scanPermission(tx.QueryRowContext(ctx, sel, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := mutate(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()

		const upd = `
UPDATE call_permissions
SET status = $2, responded_at = $3, calls_used = $4, max_calls = $5,
    consecutive_missed = $6, message_id = $7, updated_at = $8
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			p.ID,
			p.Status,
			nullTime(p.RespondedAt),
			p.CallsUsed,
			p.MaxCalls,
			p.ConsecutiveMissed,
			p.MessageID,
			p.UpdatedAt,
		); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}
	return out, nil
}

func (r *PostgresRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]CallPermission, error) {
	const q = `
SELECT ` + permissionColumns + `
FROM call_permissions
WHERE status IN ('pending', 'approved') AND expires_at <= $1
ORDER BY expires_at
LIMIT $2
`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallPermission
	for rows.Next() {
		var p CallPermission
		var responded sql.NullTime
		if err := rows.Scan(
			&p.ID,
			&p.ContactID,
			&p.Destination,
			&p.Status,
			&p.RequestedAt,
			&responded,
			&p.ExpiresAt,
			&p.CallsUsed,
			&p.MaxCalls,
			&p.ConsecutiveMissed,
			&p.MessageID,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if responded.Valid {
			t := responded.Time
			p.RespondedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
