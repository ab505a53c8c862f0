// Package resilience guards calls to the AI provider with a circuit breaker
// and per-call timeout enforcement. The breaker trips after repeated upstream
// failures and probes recovery after a cooldown; the gate wraps each call with
// breaker admission, a deadline, and state accounting.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset window has elapsed.
	StateOpen
	// StateHalfOpen admits a single probe call to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default: 5)
	ResetAfter       time.Duration // cooldown before a recovery probe (default: 30s)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetAfter:       30 * time.Second,
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker tracks consecutive upstream failures and short-circuits calls once
// the threshold is reached. The open state clears only by letting a probe
// through after the cooldown and seeing it succeed; rejected calls while open
// never feed back into the failure count.
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	lastFailure time.Time
	probing     bool // a half-open probe is in flight

	failureThreshold int
	resetAfter       time.Duration
}

// NewBreaker creates a closed breaker. Zero config fields fall back to
// DefaultBreakerConfig values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}

	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		resetAfter:       cfg.ResetAfter,
	}
}

// Allow reports whether a call may proceed. While open, the first Allow after
// the cooldown elapses transitions to half-open and admits exactly one probe;
// further calls are rejected until the probe reports its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) > b.resetAfter {
			b.state = StateHalfOpen
			b.probing = true
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Success records a successful call. A successful probe closes the breaker;
// in the closed state it clears the consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probing = false
	case StateClosed:
		b.failures = 0
	}
}

// Failure records a failed call. Reaching the threshold while closed opens
// the breaker; a failed probe re-opens it and restarts the cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.probing = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// reset closes the breaker and clears all counters. Only tests use it; the
// open state otherwise clears solely through the half-open probe.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
}
