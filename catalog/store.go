package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netraven/core/errs"
)

// Store wraps a PostgreSQL connection pool with the helpers every
// repository file in this package builds on, generalizing the teacher's
// db.PostgresDB (pgx pool + Exec/Query/QueryRow) from a single metrics
// table to the full catalog schema.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a Store backed by connString (spec §6 DATABASE_URL).
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogLoss, err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.CatalogLoss, err, "failed to ping database")
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the raw pool for callers that need custom transactions
// (e.g. the dispatcher's enqueue+advance, or vault key rotation).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Exec runs a statement with no result rows.
func (s *Store) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "exec failed")
	}
	return nil
}

// Query runs a statement returning rows. Caller must Close() the result.
func (s *Store) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogLoss, err, "query failed")
	}
	return rows, nil
}

// QueryRow runs a statement returning a single row.
func (s *Store) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return s.pool.QueryRow(ctx, sql, args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Every multi-row invariant in spec §5 (enqueue +
// next-fire advance, sub-result + run-status, credential rotation) must
// go through this.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errs.Wrap(errs.CatalogLoss, err, fmt.Sprintf("rollback also failed: %v", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "failed to commit transaction")
	}
	return nil
}

// AdvisoryLock acquires the single-instance dispatcher lease via
// pg_try_advisory_lock, returning false if another dispatcher already
// holds it (spec §4.1: "two concurrent dispatchers MUST NOT double-fire").
// The lock is tied to conn's lifetime; callers must hold conn open for as
// long as they want the lease.
func (s *Store) AdvisoryLock(ctx context.Context, conn *pgxpool.Conn, key int64) (bool, error) {
	var acquired bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired)
	if err != nil {
		return false, errs.Wrap(errs.CatalogLoss, err, "advisory lock query failed")
	}
	return acquired, nil
}

// AdvisoryUnlock releases a lease acquired with AdvisoryLock.
func (s *Store) AdvisoryUnlock(ctx context.Context, conn *pgxpool.Conn, key int64) error {
	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	if err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "advisory unlock failed")
	}
	return nil
}
