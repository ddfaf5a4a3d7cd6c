package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"
)

// txRecorder is a minimal driver that records commit/rollback decisions so
// WithTx can be exercised without a running database.
type txRecorder struct {
	commits   int
	rollbacks int
}

func (r *txRecorder) Open(string) (driver.Conn, error) { return &recConn{rec: r}, nil }

type recConn struct{ rec *txRecorder }

func (c *recConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *recConn) Close() error                        { return nil }
func (c *recConn) Begin() (driver.Tx, error)           { return recTx{rec: c.rec}, nil }

type recTx struct{ rec *txRecorder }

func (t recTx) Commit() error   { t.rec.commits++; return nil }
func (t recTx) Rollback() error { t.rec.rollbacks++; return nil }

func openRecorder(t *testing.T, name string) (*sql.DB, *txRecorder) {
	t.Helper()
	rec := &txRecorder{}
	sql.Register(name, rec)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, rec
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db, rec := openRecorder(t, "txrec-commit")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if rec.commits != 1 || rec.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/0", rec.commits, rec.rollbacks)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, rec := openRecorder(t, "txrec-rollback")

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if rec.commits != 0 || rec.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", rec.commits, rec.rollbacks)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db, rec := openRecorder(t, "txrec-panic")

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic did not propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
			panic("boom")
		})
	}()
	if rec.commits != 0 || rec.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", rec.commits, rec.rollbacks)
	}
}

func TestPoolConfigNormalize(t *testing.T) {
	got := PostgresPoolConfig{}.normalize()
	if got.MaxOpenConns != 20 || got.MaxIdleConns != 10 {
		t.Fatalf("defaults: open=%d idle=%d", got.MaxOpenConns, got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("ping timeout = %v", got.PingTimeout)
	}

	got = PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 9}.normalize()
	if got.MaxIdleConns != 2 {
		t.Fatalf("idle clamp = %d, want 2", got.MaxIdleConns)
	}
}
