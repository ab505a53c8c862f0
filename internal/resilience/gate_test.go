package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"aicore/internal/log"
)

func TestGate_Success(t *testing.T) {
	t.Parallel()

	g := NewGate(NewBreaker(BreakerConfig{FailureThreshold: 2}), log.NewNop())

	called := false
	err := g.Do(context.Background(), time.Second, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if !called {
		t.Error("op should have been invoked")
	}
	if g.State() != StateClosed {
		t.Error("breaker should stay closed")
	}
}

func TestGate_FailureFeedsBreaker(t *testing.T) {
	t.Parallel()

	g := NewGate(NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetAfter:       time.Hour,
	}), log.NewNop())

	opErr := errors.New("upstream exploded")
	for i := 0; i < 2; i++ {
		if err := g.Do(context.Background(), time.Second, func(ctx context.Context) error {
			return opErr
		}); !errors.Is(err, opErr) {
			t.Fatalf("Do() = %v, want op error", err)
		}
	}

	if g.State() != StateOpen {
		t.Fatal("breaker should open after threshold failures")
	}

	// Open breaker rejects without running the op.
	invoked := false
	err := g.Do(context.Background(), time.Second, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("op must not run while the breaker is open")
	}
}

func TestGate_TimeoutCancelsOp(t *testing.T) {
	t.Parallel()

	g := NewGate(NewBreaker(BreakerConfig{FailureThreshold: 5}), log.NewNop())

	err := g.Do(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v, want DeadlineExceeded", err)
	}
	if got := g.State(); got != StateClosed {
		t.Errorf("one timeout should not open the breaker, state = %v", got)
	}
}

func TestGate_ParentCancellation(t *testing.T) {
	t.Parallel()

	g := NewGate(NewBreaker(BreakerConfig{FailureThreshold: 5}), log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Do(ctx, time.Second, func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want Canceled", err)
	}
}

func TestGate_ZeroTimeoutUsesParentContext(t *testing.T) {
	t.Parallel()

	g := NewGate(NewBreaker(BreakerConfig{FailureThreshold: 5}), log.NewNop())

	err := g.Do(context.Background(), 0, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("no deadline expected when timeout is zero")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
}
