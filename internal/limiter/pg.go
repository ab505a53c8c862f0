package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQL statements for the rate_limit_entries table.
const (
	pruneEntriesSQL = `DELETE FROM rate_limit_entries
	WHERE identity = $1 AND admitted_at <= $2`

	countEntriesSQL = `SELECT count(*), min(admitted_at)
	FROM rate_limit_entries
	WHERE identity = $1 AND admitted_at > $2`

	insertEntrySQL = `INSERT INTO rate_limit_entries (identity, admitted_at)
	VALUES ($1, $2)`

	clearEntriesSQL = `DELETE FROM rate_limit_entries WHERE identity = $1`
)

// PostgresStore is a Store shared across instances through a PostgreSQL
// table. A per-identity advisory lock makes prune + count + insert atomic
// against concurrent admissions for the same identity.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Admit implements Store.
func (s *PostgresStore) Admit(ctx context.Context, identity string, now, windowStart time.Time, limit int) (admitted bool, count int, oldest time.Time, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("beginning admission tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// pg_advisory_xact_lock releases automatically at commit/rollback.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("acquiring advisory lock: %w", err)
	}

	if _, err = tx.Exec(ctx, pruneEntriesSQL, identity, windowStart); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("pruning entries: %w", err)
	}

	var oldestPtr *time.Time
	if err = tx.QueryRow(ctx, countEntriesSQL, identity, windowStart).Scan(&count, &oldestPtr); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("counting entries: %w", err)
	}
	if oldestPtr != nil {
		oldest = *oldestPtr
	}

	if count < limit {
		if _, err = tx.Exec(ctx, insertEntrySQL, identity, now); err != nil {
			return false, 0, time.Time{}, fmt.Errorf("recording admission: %w", err)
		}
		admitted = true
	}

	if err = tx.Commit(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("committing admission tx: %w", err)
	}
	return admitted, count, oldest, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context, identity string, windowStart time.Time) (int, error) {
	var count int
	var oldest *time.Time
	err := s.pool.QueryRow(ctx, countEntriesSQL, identity, windowStart).Scan(&count, &oldest)
	if err != nil && err != pgx.ErrNoRows {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context, identity string) error {
	if _, err := s.pool.Exec(ctx, clearEntriesSQL, identity); err != nil {
		return fmt.Errorf("clearing entries: %w", err)
	}
	return nil
}
