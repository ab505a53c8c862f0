// Package limiter implements a sliding-window rate limiter keyed by caller
// identity. Each admission is recorded with its timestamp; a request is
// allowed when fewer than the limit of admissions fall inside the trailing
// window. Storage is pluggable so tests and single-process deployments run
// in memory while multi-instance deployments share a PostgreSQL table.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store persists admission timestamps per identity.
//
// Admit must be atomic with respect to concurrent calls for the same
// identity: prune entries older than windowStart, count the survivors, and
// record the new admission only when the count is below limit.
type Store interface {
	// Admit returns whether the request was admitted, the in-window count
	// before this admission, and the oldest surviving entry (zero when none).
	Admit(ctx context.Context, identity string, now, windowStart time.Time, limit int) (admitted bool, count int, oldest time.Time, err error)

	// Count returns the number of in-window entries without admitting.
	Count(ctx context.Context, identity string, windowStart time.Time) (int, error)

	// Clear removes all entries for the identity.
	Clear(ctx context.Context, identity string) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int           // admissions left in the current window
	RetryAfter time.Duration // how long until a slot frees up; zero when allowed
}

// Config configures a Limiter.
type Config struct {
	Limit  int           // max admissions per window (default: 60)
	Window time.Duration // sliding window length (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Limit:  60,
		Window: time.Minute,
	}
}

// Limiter enforces a per-identity sliding-window quota.
//
// Limiter is safe for concurrent use by multiple goroutines.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger

	// now is swapped in tests to control time.
	now func() time.Time
}

// New creates a Limiter over the given store. Zero config fields fall back
// to DefaultConfig values.
func New(store Store, cfg Config, logger *slog.Logger) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Allow checks and records one admission for the identity. On rejection,
// Decision.RetryAfter tells the caller when the oldest in-window entry will
// age out. Store errors fail open: an unreachable store must not take the
// whole service down with it.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	windowStart := now.Add(-l.window)

	admitted, count, oldest, err := l.store.Admit(ctx, identity, now, windowStart, l.limit)
	if err != nil {
		l.logger.Error("rate limiter store failed, allowing request",
			"identity", identity, "error", err)
		return Decision{Allowed: true, Remaining: l.limit}, nil
	}

	if !admitted {
		retryAfter := l.window
		if !oldest.IsZero() {
			retryAfter = oldest.Add(l.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		l.logger.Warn("rate limit exceeded",
			"identity", identity,
			"count", count,
			"retry_after", retryAfter)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	remaining := l.limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// RemainingQuota reports how many admissions the identity has left without
// consuming one.
func (l *Limiter) RemainingQuota(ctx context.Context, identity string) (int, error) {
	count, err := l.store.Count(ctx, identity, l.now().Add(-l.window))
	if err != nil {
		return 0, fmt.Errorf("counting admissions: %w", err)
	}
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the identity's window entirely.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.store.Clear(ctx, identity); err != nil {
		return fmt.Errorf("clearing admissions: %w", err)
	}
	return nil
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }
