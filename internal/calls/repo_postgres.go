package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"callbridge/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists calls and their event log.
//
// Schema assumptions (see schema.sql):
// - calls.provider_call_id has a partial unique index (non-empty values).
// - call_events has UNIQUE (call_id, external_event_id) for non-empty ids
//   and is insert-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const callColumns = `
id, provider_call_id, direction, status, from_address, to_address,
contact_id, agent_id, permission_id, session_name,
started_at, ended_at, duration, recording_url, notes, metadata,
created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var ended sql.NullTime
	var meta []byte
	err := row.Scan(
		&c.ID,
		&c.ProviderCallID,
		&c.Direction,
		&c.Status,
		&c.FromAddress,
		&c.ToAddress,
		&c.ContactID,
		&c.AgentID,
		&c.PermissionID,
		&c.SessionName,
		&c.StartedAt,
		&ended,
		&c.DurationSeconds,
		&c.RecordingURL,
		&c.Notes,
		&meta,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, err
		}
	}
	return c, nil
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO calls (
  id, provider_call_id, direction, status, from_address, to_address,
  contact_id, agent_id, permission_id, session_name,
  started_at, ended_at, duration, recording_url, notes, metadata,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.ProviderCallID,
		c.Direction,
		c.Status,
		c.FromAddress,
		c.ToAddress,
		c.ContactID,
		c.AgentID,
		c.PermissionID,
		c.SessionName,
		c.StartedAt,
		nullEnded(c.EndedAt),
		c.DurationSeconds,
		c.RecordingURL,
		c.Notes,
		meta,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1 AND provider_call_id <> ''`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetBySession(ctx context.Context, sessionName string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE session_name = $1 AND session_name <> '' LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, sessionName))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*Call) error) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, sel, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		providerID := c.ProviderCallID
		if err := mutate(&c); err != nil {
			return err
		}
		// The provider id is immutable through Update; SetProviderCallID
		// is the only writer.
		c.ProviderCallID = providerID
		c.UpdatedAt = time.Now().UTC()

		meta, err := marshalMeta(c.Metadata)
		if err != nil {
			return err
		}
		const upd = `
UPDATE calls
SET status = $2, contact_id = $3, agent_id = $4, permission_id = $5,
    session_name = $6, ended_at = $7, duration = $8, recording_url = $9,
    notes = $10, metadata = $11, updated_at = $12
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			c.ID,
			c.Status,
			c.ContactID,
			c.AgentID,
			c.PermissionID,
			c.SessionName,
			nullEnded(c.EndedAt),
			c.DurationSeconds,
			c.RecordingURL,
			c.Notes,
			meta,
			c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (r *PostgresRepo) SetProviderCallID(ctx context.Context, id, providerCallID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, sel, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if c.ProviderCallID == providerCallID {
			out = c
			return nil
		}
		if c.ProviderCallID != "" {
			return ErrDuplicateExternalID
		}
		c.ProviderCallID = providerCallID
		c.UpdatedAt = time.Now().UTC()

		const upd = `UPDATE calls SET provider_call_id = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, upd, c.ID, c.ProviderCallID, c.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateExternalID
			}
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	const q = `
INSERT INTO call_events (
  id, call_id, external_event_id, kind, status, payload, occurred_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (call_id, external_event_id) WHERE external_event_id <> '' DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CallID,
		e.ExternalEventID,
		e.Kind,
		e.Status,
		e.Payload,
		e.OccurredAt,
		e.CreatedAt,
	)
	if err != nil {
		return err
	}
	if e.ExternalEventID != "" {
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDuplicateEvent
		}
	}
	return nil
}

func (r *PostgresRepo) ListEvents(ctx context.Context, callID string) ([]CallEvent, error) {
	const q = `
SELECT id, call_id, external_event_id, kind, status, payload, occurred_at, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var e CallEvent
		if err := rows.Scan(
			&e.ID,
			&e.CallID,
			&e.ExternalEventID,
			&e.Kind,
			&e.Status,
			&e.Payload,
			&e.OccurredAt,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nullEnded(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
