package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQL statements for the tasks table.
const (
	appendTaskSQL = `INSERT INTO tasks (task_id, task_type, payload, priority, retry_count, last_error, enqueued_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// FOR UPDATE SKIP LOCKED makes concurrent claims hand out disjoint
	// entries without blocking each other.
	claimTasksSQL = `UPDATE tasks SET claimed_by = $1, claimed_at = now()
	WHERE entry_id IN (
		SELECT entry_id FROM tasks
		WHERE claimed_at IS NULL
		ORDER BY entry_id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING entry_id, task_id, task_type, payload, priority, retry_count, last_error, enqueued_at`

	ackTaskSQL = `DELETE FROM tasks WHERE entry_id = $1`

	reclaimStaleSQL = `UPDATE tasks SET claimed_by = NULL, claimed_at = NULL
	WHERE claimed_at IS NOT NULL AND claimed_at < $1`

	countTasksSQL   = `SELECT count(*) FROM tasks`
	countClaimedSQL = `SELECT count(*) FROM tasks WHERE claimed_at IS NOT NULL`
)

// SQL statements for the task_dlq table.
const (
	addDeadLetterSQL = `INSERT INTO task_dlq (task_id, task_type, payload, priority, retry_count, failed_at, last_error)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listDeadLettersSQL = `SELECT entry_id, task_id, task_type, payload, priority, retry_count, failed_at, last_error
	FROM task_dlq ORDER BY entry_id LIMIT $1`

	getDeadLetterSQL = `SELECT entry_id, task_id, task_type, payload, priority, retry_count, failed_at, last_error
	FROM task_dlq WHERE entry_id = $1`

	removeDeadLetterSQL = `DELETE FROM task_dlq WHERE entry_id = $1`
	purgeDeadLettersSQL = `DELETE FROM task_dlq`
	countDeadLettersSQL = `SELECT count(*) FROM task_dlq`
)

// SQL statements for the task_results table.
const (
	putResultSQL = `INSERT INTO task_results (task_id, ok, data, error, dlq, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (task_id) DO UPDATE SET
		ok = EXCLUDED.ok,
		data = EXCLUDED.data,
		error = EXCLUDED.error,
		dlq = EXCLUDED.dlq,
		expires_at = EXCLUDED.expires_at`

	takeResultSQL = `DELETE FROM task_results
	WHERE task_id = $1 AND expires_at > now()
	RETURNING ok, data, error, dlq`

	sweepResultsSQL = `DELETE FROM task_results WHERE expires_at <= now()`
)

// PostgresLog implements Log over the tasks table.
//
// PostgresLog is safe for concurrent use by multiple goroutines.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a PostgresLog over the given pool.
func NewPostgresLog(pool *pgxpool.Pool) (*PostgresLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresLog{pool: pool}, nil
}

// Append implements Log.
func (l *PostgresLog) Append(ctx context.Context, task Task) error {
	_, err := l.pool.Exec(ctx, appendTaskSQL,
		task.ID, task.Type, task.Payload, task.Priority,
		task.RetryCount, nullableString(task.LastError), task.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Claim implements Log.
func (l *PostgresLog) Claim(ctx context.Context, consumer string, limit int) ([]Claimed, error) {
	rows, err := l.pool.Query(ctx, claimTasksSQL, consumer, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming tasks: %w", err)
	}
	defer rows.Close()

	var claimed []Claimed
	for rows.Next() {
		var c Claimed
		var entryID int64
		var lastError *string
		if err := rows.Scan(&entryID, &c.Task.ID, &c.Task.Type, &c.Task.Payload,
			&c.Task.Priority, &c.Task.RetryCount, &lastError, &c.Task.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scanning claimed task: %w", err)
		}
		c.EntryID = strconv.FormatInt(entryID, 10)
		if lastError != nil {
			c.Task.LastError = *lastError
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claimed tasks: %w", err)
	}
	return claimed, nil
}

// Ack implements Log.
func (l *PostgresLog) Ack(ctx context.Context, entryID string) error {
	id, err := strconv.ParseInt(entryID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry ID %q: %w", entryID, err)
	}
	if _, err := l.pool.Exec(ctx, ackTaskSQL, id); err != nil {
		return fmt.Errorf("deleting task entry: %w", err)
	}
	return nil
}

// ReclaimStale implements Log.
func (l *PostgresLog) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := l.pool.Exec(ctx, reclaimStaleSQL, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, countTasksSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return n, nil
}

// ClaimedLen implements Log.
func (l *PostgresLog) ClaimedLen(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, countClaimedSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting claimed tasks: %w", err)
	}
	return n, nil
}

// PostgresDeadLetters implements DeadLetters over the task_dlq table.
type PostgresDeadLetters struct {
	pool *pgxpool.Pool
}

// NewPostgresDeadLetters creates a PostgresDeadLetters over the given pool.
func NewPostgresDeadLetters(pool *pgxpool.Pool) (*PostgresDeadLetters, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresDeadLetters{pool: pool}, nil
}

// Add implements DeadLetters.
func (d *PostgresDeadLetters) Add(ctx context.Context, entry DeadLetter) error {
	_, err := d.pool.Exec(ctx, addDeadLetterSQL,
		entry.Task.ID, entry.Task.Type, entry.Task.Payload, entry.Task.Priority,
		entry.Task.RetryCount, entry.FailedAt, entry.LastError)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// List implements DeadLetters.
func (d *PostgresDeadLetters) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := d.pool.Query(ctx, listDeadLettersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var entries []DeadLetter
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return entries, nil
}

// Get implements DeadLetters.
func (d *PostgresDeadLetters) Get(ctx context.Context, entryID string) (DeadLetter, error) {
	id, err := strconv.ParseInt(entryID, 10, 64)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("%w: invalid entry ID %q", ErrDLQEntryNotFound, entryID)
	}

	row := d.pool.QueryRow(ctx, getDeadLetterSQL, id)
	entry, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeadLetter{}, fmt.Errorf("%w: %s", ErrDLQEntryNotFound, entryID)
	}
	return entry, err
}

// Remove implements DeadLetters.
func (d *PostgresDeadLetters) Remove(ctx context.Context, entryID string) error {
	id, err := strconv.ParseInt(entryID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid entry ID %q", ErrDLQEntryNotFound, entryID)
	}
	if _, err := d.pool.Exec(ctx, removeDeadLetterSQL, id); err != nil {
		return fmt.Errorf("removing dead letter: %w", err)
	}
	return nil
}

// Purge implements DeadLetters.
func (d *PostgresDeadLetters) Purge(ctx context.Context) (int, error) {
	tag, err := d.pool.Exec(ctx, purgeDeadLettersSQL)
	if err != nil {
		return 0, fmt.Errorf("purging dead letters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Len implements DeadLetters.
func (d *PostgresDeadLetters) Len(ctx context.Context) (int, error) {
	var n int
	if err := d.pool.QueryRow(ctx, countDeadLettersSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (DeadLetter, error) {
	var entry DeadLetter
	var entryID int64
	if err := row.Scan(&entryID, &entry.Task.ID, &entry.Task.Type, &entry.Task.Payload,
		&entry.Task.Priority, &entry.Task.RetryCount, &entry.FailedAt, &entry.LastError); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeadLetter{}, err
		}
		return DeadLetter{}, fmt.Errorf("scanning dead letter: %w", err)
	}
	entry.EntryID = strconv.FormatInt(entryID, 10)
	entry.Task.LastError = entry.LastError
	return entry, nil
}

// PostgresResults implements Results over the task_results table.
type PostgresResults struct {
	pool *pgxpool.Pool
}

// NewPostgresResults creates a PostgresResults over the given pool.
func NewPostgresResults(pool *pgxpool.Pool) (*PostgresResults, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresResults{pool: pool}, nil
}

// Put implements Results.
func (r *PostgresResults) Put(ctx context.Context, taskID string, result Result, ttl time.Duration) error {
	_, err := r.pool.Exec(ctx, putResultSQL,
		taskID, result.OK, result.Data, nullableString(result.Error), result.DLQ,
		time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("storing result: %w", err)
	}
	return nil
}

// Take implements Results.
func (r *PostgresResults) Take(ctx context.Context, taskID string) (*Result, error) {
	var result Result
	var errMsg *string
	err := r.pool.QueryRow(ctx, takeResultSQL, taskID).Scan(&result.OK, &result.Data, &errMsg, &result.DLQ)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taking result: %w", err)
	}
	if errMsg != nil {
		result.Error = *errMsg
	}
	return &result, nil
}

// Sweep deletes expired result slots. Meant to run periodically from the
// worker process.
func (r *PostgresResults) Sweep(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, sweepResultsSQL)
	if err != nil {
		return 0, fmt.Errorf("sweeping results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
