package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"aicore/internal/log"
)

// fixedClock advances only when the test says so.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *fixedClock) {
	t.Helper()

	l, err := New(NewMemoryStore(), Config{Limit: limit, Window: window}, log.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{}, log.NewNop()); err == nil {
		t.Error("New(nil store) should fail")
	}

	l, err := New(NewMemoryStore(), Config{}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if l.Limit() != 60 || l.Window() != time.Minute {
		t.Errorf("defaults not applied: limit=%d window=%v", l.Limit(), l.Window())
	}
}

func TestLimiter_AllowUpToLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("Allow() failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("admission %d should be allowed", i+1)
		}
		if want := 3 - i - 1; d.Remaining != want {
			t.Errorf("admission %d: Remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestLimiter_RejectsOverLimit(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := l.Allow(ctx, "user-1"); !d.Allowed {
			t.Fatal("setup admission should be allowed")
		}
	}

	clock.advance(10 * time.Second)
	d, err := l.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow() failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("admission over limit should be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	// Oldest entry was 10s ago, so a slot frees in window - 10s.
	if want := 50 * time.Second; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	l.Allow(ctx, "user-1")
	l.Allow(ctx, "user-1")

	// Once the old entries age out, admissions succeed again.
	clock.advance(61 * time.Second)
	d, err := l.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow() failed: %v", err)
	}
	if !d.Allowed {
		t.Error("admission after window elapsed should be allowed")
	}
	if d.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", d.Remaining)
	}
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "user-1"); !d.Allowed {
		t.Fatal("first identity should be allowed")
	}
	if d, _ := l.Allow(ctx, "user-1"); d.Allowed {
		t.Fatal("first identity should now be exhausted")
	}
	if d, _ := l.Allow(ctx, "user-2"); !d.Allowed {
		t.Error("second identity must have its own quota")
	}
}

func TestLimiter_RemainingQuota(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	got, err := l.RemainingQuota(ctx, "user-1")
	if err != nil {
		t.Fatalf("RemainingQuota() failed: %v", err)
	}
	if got != 3 {
		t.Errorf("RemainingQuota = %d, want 3", got)
	}

	l.Allow(ctx, "user-1")
	l.Allow(ctx, "user-1")

	got, err = l.RemainingQuota(ctx, "user-1")
	if err != nil {
		t.Fatalf("RemainingQuota() failed: %v", err)
	}
	if got != 1 {
		t.Errorf("RemainingQuota = %d, want 1", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	l.Allow(ctx, "user-1")
	if d, _ := l.Allow(ctx, "user-1"); d.Allowed {
		t.Fatal("quota should be exhausted")
	}

	if err := l.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if d, _ := l.Allow(ctx, "user-1"); !d.Allowed {
		t.Error("admission after Reset should be allowed")
	}
}

// failingStore simulates an unreachable backing store.
type failingStore struct{}

func (failingStore) Admit(context.Context, string, time.Time, time.Time, int) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("connection refused")
}
func (failingStore) Count(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}
func (failingStore) Clear(context.Context, string) error {
	return errors.New("connection refused")
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	l, err := New(failingStore{}, Config{Limit: 1, Window: time.Minute}, log.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	d, err := l.Allow(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Allow() should not surface store errors, got %v", err)
	}
	if !d.Allowed {
		t.Error("store failure should fail open")
	}
}
