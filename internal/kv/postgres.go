package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

// writerLockKey is the advisory lock id that serializes registry writers.
// Every process sharing the database must use the same value.
const writerLockKey int64 = 0x50_55_4c_53 // "SOUL"

// Postgres stores the substrate in the kv_entries table. Update runs inside
// one SQL transaction holding a transaction-scoped advisory lock, so writers
// are serialized across processes and a failed callback rolls back.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// PostgresOption configures a Postgres substrate.
type PostgresOption func(*Postgres)

// WithPostgresTimeout overrides the default transaction timeout.
func WithPostgresTimeout(timeout time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.timeout = timeout
	}
}

// NewPostgres constructs a substrate over an open database handle. The schema
// is managed by the migrations in internal/platform/postgres.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Postgres) View(ctx context.Context, fn func(txn Txn) error) error {
	ctx, cancel, err := withTxTimeout(ctx, p.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return mapPostgresErr(err, "begin view")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	return fn(&postgresTxn{ctx: ctx, tx: tx, readOnly: true})
}

func (p *Postgres) Update(ctx context.Context, fn func(txn Txn) error) error {
	ctx, cancel, err := withTxTimeout(ctx, p.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return mapPostgresErr(err, "begin update")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return mapPostgresErr(err, "acquire writer lock")
	}

	txn := &postgresTxn{ctx: ctx, tx: tx}
	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.flushDeletes(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapPostgresErr(err, "commit")
	}
	return nil
}

type postgresTxn struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
	// deletes are batched into one statement at commit; Gets consult them first.
	deletes []string
}

func (t *postgresTxn) Get(key string) ([]byte, error) {
	for _, k := range t.deletes {
		if k == key {
			return nil, sentinel.ErrNotFound
		}
	}
	var value []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, mapPostgresErr(err, "get "+key)
	}
	return value, nil
}

func (t *postgresTxn) Put(key string, value []byte) error {
	if t.readOnly {
		return sentinel.ErrReadOnly
	}
	if err := validateKey(key); err != nil {
		return err
	}
	t.dropPendingDelete(key)
	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.ExecContext(t.ctx, query, key, value); err != nil {
		return mapPostgresErr(err, "put "+key)
	}
	return nil
}

func (t *postgresTxn) Delete(key string) error {
	if t.readOnly {
		return sentinel.ErrReadOnly
	}
	if err := validateKey(key); err != nil {
		return err
	}
	t.dropPendingDelete(key)
	t.deletes = append(t.deletes, key)
	return nil
}

func (t *postgresTxn) dropPendingDelete(key string) {
	for i, k := range t.deletes {
		if k == key {
			t.deletes = append(t.deletes[:i], t.deletes[i+1:]...)
			return
		}
	}
}

// flushDeletes removes every pending key in one round trip.
func (t *postgresTxn) flushDeletes() error {
	if len(t.deletes) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv_entries WHERE key = ANY($1::text[])`, pq.Array(t.deletes))
	if err != nil {
		return mapPostgresErr(err, "delete batch")
	}
	t.deletes = nil
	return nil
}

// mapPostgresErr turns cancellations and connection loss into coded errors
// and wraps everything else with the failed step.
func mapPostgresErr(err error, step string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "kv "+step+" timed out")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "57", "08": // operator intervention, connection exception
			return dErrors.Wrap(fmt.Errorf("%w: %s", sentinel.ErrUnavailable, pqErr.Message), dErrors.CodeUnavailable, "kv "+step+" failed")
		}
	}
	return fmt.Errorf("kv %s: %w", step, err)
}
