package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Gate wraps calls to a flaky upstream with breaker admission and a hard
// per-call deadline. It performs no retries itself; callers decide whether a
// failure is worth another attempt.
type Gate struct {
	breaker *Breaker
	logger  *slog.Logger
}

// NewGate creates a gate around the given breaker.
func NewGate(breaker *Breaker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{breaker: breaker, logger: logger}
}

// Do runs op under the breaker with the given timeout. The op receives a
// context that is cancelled when the timeout fires or the parent context ends;
// op must honor that cancellation. Breaker rejections return ErrOpen without
// invoking op and without touching the failure count.
func (g *Gate) Do(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if err := g.breaker.Allow(); err != nil {
		g.logger.Warn("call rejected by circuit breaker", "state", g.breaker.State().String())
		return err
	}

	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := op(opCtx)
	if err != nil {
		g.breaker.Failure()
		if g.breaker.State() == StateOpen {
			g.logger.Warn("circuit breaker opened",
				"failures", g.breaker.Failures(),
				"error", err)
		}
		return err
	}

	g.breaker.Success()
	return nil
}

// State exposes the underlying breaker state for health reporting.
func (g *Gate) State() State {
	return g.breaker.State()
}
