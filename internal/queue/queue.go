// Package queue provides a durable task queue for asynchronous AI work.
// Producers enqueue typed tasks and optionally wait for results; workers
// claim tasks, run a handler, and either publish a result, schedule a retry
// with exponential backoff, or bury the task in the dead letter queue after
// the retry budget is exhausted.
//
// Storage is pluggable: the PostgreSQL backend serves multi-instance
// deployments, the in-memory backend serves tests and single-process use.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of asynchronous work.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   string          `json:"priority"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Claimed couples a task with the log entry handle a worker must ack.
type Claimed struct {
	EntryID string
	Task
}

// DeadLetter is a task that exhausted its retries.
type DeadLetter struct {
	EntryID   string    `json:"entryId"`
	Task      Task      `json:"task"`
	FailedAt  time.Time `json:"failedAt"`
	LastError string    `json:"lastError"`
}

// Result is the outcome a producer can wait for.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	DLQ   bool            `json:"dlq,omitempty"`
}

// Stats is a point-in-time queue snapshot.
type Stats struct {
	QueueLength int `json:"queueLength"`
	Claimed     int `json:"claimed"`
	DLQLength   int `json:"dlqLength"`
}

// Log is the task log backend. Appends are durable before Append returns;
// a claimed entry stays invisible to other consumers until acked or
// reclaimed.
type Log interface {
	Append(ctx context.Context, task Task) error
	// Claim atomically marks up to limit unclaimed entries as owned by the
	// consumer and returns them, oldest first.
	Claim(ctx context.Context, consumer string, limit int) ([]Claimed, error)
	// Ack removes a claimed entry permanently.
	Ack(ctx context.Context, entryID string) error
	// ReclaimStale releases entries whose claim is older than the cutoff so
	// another consumer can pick them up. Returns how many were released.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	// Len counts all entries; ClaimedLen counts only claimed ones.
	Len(ctx context.Context) (int, error)
	ClaimedLen(ctx context.Context) (int, error)
}

// DeadLetters is the dead letter backend.
type DeadLetters interface {
	Add(ctx context.Context, entry DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, entryID string) (DeadLetter, error)
	Remove(ctx context.Context, entryID string) error
	Purge(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// Results is the result slot backend. Slots expire after their TTL; Take
// consumes the slot so a result is observed at most once.
type Results interface {
	Put(ctx context.Context, taskID string, result Result, ttl time.Duration) error
	// Take returns nil when no live result exists for the task.
	Take(ctx context.Context, taskID string) (*Result, error)
}

// Handler processes one task. The returned value is serialized into the
// task's result slot on success.
type Handler func(ctx context.Context, task Task) (any, error)

// ErrDLQEntryNotFound is returned when a dead letter entry ID is unknown.
var ErrDLQEntryNotFound = errors.New("dead letter entry not found")

// ErrResultTimeout is returned by WaitForResult when no result arrives in
// time.
var ErrResultTimeout = errors.New("timed out waiting for task result")

// Config configures a Queue.
type Config struct {
	MaxRetries     int           // retry budget before dead-lettering (default: 3)
	RetryBaseDelay time.Duration // backoff base, doubles per attempt (default: 1s)
	ResultTTL      time.Duration // result slot lifetime (default: 5m)
	PollInterval   time.Duration // result poll and idle consumer sleep (default: 100ms)
	BatchSize      int           // tasks claimed per cycle (default: 1)
	ClaimTTL       time.Duration // claim age before reclaim, 0 disables (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		ResultTTL:      5 * time.Minute,
		PollInterval:   100 * time.Millisecond,
		BatchSize:      1,
		ClaimTTL:       time.Minute,
	}
}

// Queue coordinates producers and workers over the pluggable backends.
//
// Queue is safe for concurrent use by multiple goroutines.
type Queue struct {
	tasks   Log
	dead    DeadLetters
	results Results
	cfg     Config
	logger  *slog.Logger
}

// New creates a Queue. Zero config fields fall back to DefaultConfig values;
// ClaimTTL keeps an explicit zero as "reclaim disabled".
func New(tasks Log, dead DeadLetters, results Results, cfg Config, logger *slog.Logger) (*Queue, error) {
	if tasks == nil || dead == nil || results == nil {
		return nil, fmt.Errorf("all queue backends are required")
	}
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		tasks:   tasks,
		dead:    dead,
		results: results,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Enqueue appends a task and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any, priority string) (string, error) {
	if taskType == "" {
		return "", fmt.Errorf("task type is required")
	}
	if priority == "" {
		priority = "normal"
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	task := Task{
		ID:         newTaskID(),
		Type:       taskType,
		Payload:    raw,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
	if err := q.tasks.Append(ctx, task); err != nil {
		return "", fmt.Errorf("appending task: %w", err)
	}

	q.logger.Debug("task enqueued", "task_id", task.ID, "type", taskType)
	return task.ID, nil
}

func newTaskID() string {
	return fmt.Sprintf("task:%d:%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Consume claims and processes tasks until the context ends. Each claimed
// task resolves to exactly one outcome: a success result, a retry re-append,
// or a dead letter with a failure result. The original log entry is acked in
// every case.
//
// Backend errors inside the loop are logged and retried after a short pause
// rather than terminating the consumer.
func (q *Queue) Consume(ctx context.Context, consumer string, handler Handler) error {
	if consumer == "" {
		return fmt.Errorf("consumer name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	q.logger.Info("consumer started", "consumer", consumer)
	lastReclaim := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			q.logger.Info("consumer stopped", "consumer", consumer)
			return err
		}

		if q.cfg.ClaimTTL > 0 && time.Since(lastReclaim) >= q.cfg.ClaimTTL {
			lastReclaim = time.Now()
			if n, err := q.tasks.ReclaimStale(ctx, q.cfg.ClaimTTL); err != nil {
				q.logger.Warn("stale claim reclaim failed", "error", err)
			} else if n > 0 {
				q.logger.Info("reclaimed stale claims", "count", n)
			}
		}

		claimed, err := q.tasks.Claim(ctx, consumer, q.cfg.BatchSize)
		if err != nil {
			q.logger.Error("claim failed", "consumer", consumer, "error", err)
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if len(claimed) == 0 {
			if !sleepCtx(ctx, q.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		for _, c := range claimed {
			q.process(ctx, c, handler)
		}
	}
}

// process runs the handler for one claimed task and settles its outcome.
func (q *Queue) process(ctx context.Context, c Claimed, handler Handler) {
	data, err := handler(ctx, c.Task)
	if err == nil {
		q.settleSuccess(ctx, c, data)
		return
	}

	if c.Task.RetryCount < q.cfg.MaxRetries {
		q.settleRetry(ctx, c, err)
	} else {
		q.settleDead(ctx, c, err)
	}
}

func (q *Queue) settleSuccess(ctx context.Context, c Claimed, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		q.logger.Error("marshaling task result", "task_id", c.Task.ID, "error", err)
		raw = nil
	}
	if err := q.results.Put(ctx, c.Task.ID, Result{OK: true, Data: raw}, q.cfg.ResultTTL); err != nil {
		q.logger.Error("storing task result", "task_id", c.Task.ID, "error", err)
	}
	q.ack(ctx, c)
}

func (q *Queue) settleRetry(ctx context.Context, c Claimed, cause error) {
	delay := q.cfg.RetryBaseDelay << c.Task.RetryCount
	q.logger.Warn("task failed, retrying",
		"task_id", c.Task.ID,
		"attempt", c.Task.RetryCount+1,
		"max_retries", q.cfg.MaxRetries,
		"delay", delay,
		"error", cause)

	if !sleepCtx(ctx, delay) {
		// Shutdown during backoff: leave the claim in place so the stale
		// reclaim hands the task to another consumer.
		return
	}

	retry := c.Task
	retry.RetryCount++
	retry.LastError = cause.Error()
	retry.EnqueuedAt = time.Now()
	if err := q.tasks.Append(ctx, retry); err != nil {
		q.logger.Error("re-appending task for retry", "task_id", c.Task.ID, "error", err)
		return
	}
	q.ack(ctx, c)
}

func (q *Queue) settleDead(ctx context.Context, c Claimed, cause error) {
	q.logger.Error("task exhausted retries, moving to dead letter queue",
		"task_id", c.Task.ID,
		"retry_count", c.Task.RetryCount,
		"error", cause)

	entry := DeadLetter{
		Task:      c.Task,
		FailedAt:  time.Now(),
		LastError: cause.Error(),
	}
	if err := q.dead.Add(ctx, entry); err != nil {
		q.logger.Error("adding dead letter", "task_id", c.Task.ID, "error", err)
		return
	}
	if err := q.results.Put(ctx, c.Task.ID, Result{OK: false, Error: cause.Error(), DLQ: true}, q.cfg.ResultTTL); err != nil {
		q.logger.Error("storing failure result", "task_id", c.Task.ID, "error", err)
	}
	q.ack(ctx, c)
}

func (q *Queue) ack(ctx context.Context, c Claimed) {
	if err := q.tasks.Ack(ctx, c.EntryID); err != nil {
		q.logger.Error("acking task", "task_id", c.Task.ID, "entry_id", c.EntryID, "error", err)
	}
}

// WaitForResult polls the task's result slot until a result arrives or the
// timeout expires. The result is consumed: a second wait for the same task
// times out.
func (q *Queue) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (*Result, error) {
	deadline := time.Now().Add(timeout)
	for {
		result, err := q.results.Take(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("polling result: %w", err)
		}
		if result != nil {
			return result, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s: %s", ErrResultTimeout, timeout, taskID)
		}
		if !sleepCtx(ctx, q.cfg.PollInterval) {
			return nil, ctx.Err()
		}
	}
}

// Stats reports queue depth, in-flight claims, and dead letter count.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	total, err := q.tasks.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting tasks: %w", err)
	}
	claimed, err := q.tasks.ClaimedLen(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting claims: %w", err)
	}
	dead, err := q.dead.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting dead letters: %w", err)
	}
	return Stats{QueueLength: total, Claimed: claimed, DLQLength: dead}, nil
}

// DLQTasks lists dead letters, oldest first.
func (q *Queue) DLQTasks(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 10
	}
	return q.dead.List(ctx, limit)
}

// ReprocessDLQ moves a dead letter back onto the task log with a fresh retry
// budget and returns the task ID.
func (q *Queue) ReprocessDLQ(ctx context.Context, entryID string) (string, error) {
	entry, err := q.dead.Get(ctx, entryID)
	if err != nil {
		return "", err
	}

	task := entry.Task
	task.RetryCount = 0
	task.LastError = ""
	task.EnqueuedAt = time.Now()
	if err := q.tasks.Append(ctx, task); err != nil {
		return "", fmt.Errorf("requeueing dead letter: %w", err)
	}
	if err := q.dead.Remove(ctx, entryID); err != nil {
		return "", fmt.Errorf("removing dead letter: %w", err)
	}

	q.logger.Info("dead letter requeued", "task_id", task.ID, "entry_id", entryID)
	return task.ID, nil
}

// PurgeDLQ removes all dead letters and returns how many were purged.
func (q *Queue) PurgeDLQ(ctx context.Context) (int, error) {
	return q.dead.Purge(ctx)
}

// ReclaimStale releases claims older than the configured claim TTL.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	if q.cfg.ClaimTTL <= 0 {
		return 0, nil
	}
	return q.tasks.ReclaimStale(ctx, q.cfg.ClaimTTL)
}

// sleepCtx sleeps for d unless the context ends first. Returns false when
// the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
