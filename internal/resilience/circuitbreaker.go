// Package resilience keeps the oracle answering when LLM backends misbehave.
//
// A [CircuitBreaker] stops calling a backend after a run of failures and
// lets trial calls through once a cooldown has passed. A [FallbackGroup]
// orders several backends, each behind its own breaker, and [LLMFallback]
// presents such a group as a single [llm.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while a breaker
// is open, or while its trial calls are all in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's mode.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until the cooldown ends
	StateHalfOpen              // a limited number of trial calls pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted on each.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and status reports.
	Name string

	// MaxFailures consecutive failures open the circuit. Default 5.
	MaxFailures int

	// Cooldown is how long an open circuit rejects calls. Default 30s.
	Cooldown time.Duration

	// Probes successful trial calls close a half-open circuit; at most
	// Probes trials are in flight at once. Default 3.
	Probes int

	// IsFailure reports whether err says something about the backend's
	// health. Default: every error except context cancellation and expiry.
	IsFailure func(error) bool

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// CircuitBreaker is a closed/open/half-open breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	inFlight  int // trial calls not yet finished
	succeeded int // trial calls that succeeded since half-open
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen], and
// feeds fn's result back into the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(trial, err)
	return err
}

// admit reports whether a call may proceed and whether it is a trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		cb.state, cb.inFlight, cb.succeeded = StateHalfOpen, 0, 0
		slog.Info("circuit half-open, probing", "name", cb.cfg.Name)
	}
	if cb.inFlight >= cb.cfg.Probes {
		return false, ErrCircuitOpen
	}
	cb.inFlight++
	return true, nil
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.inFlight > 0 {
		cb.inFlight--
	}
	if err != nil && !cb.cfg.IsFailure(err) {
		return
	}

	switch {
	case trial && err != nil:
		cb.open()
		slog.Warn("circuit re-opened, probe failed", "name", cb.cfg.Name, "err", err)
	case trial:
		cb.succeeded++
		if cb.state == StateHalfOpen && cb.succeeded >= cb.cfg.Probes {
			cb.state, cb.failures = StateClosed, 0
			slog.Info("circuit closed", "name", cb.cfg.Name)
		}
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			slog.Warn("circuit opened", "name", cb.cfg.Name, "failures", cb.failures, "cooldown", cb.cfg.Cooldown)
			cb.open()
		}
	default:
		cb.failures = 0
	}
}

// open trips the breaker. Caller holds cb.mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	cb.failures = 0
}

// State returns the current state. An open breaker whose cooldown has ended
// reports [StateHalfOpen] before the next call moves it there.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset closes the breaker and forgets its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state, cb.failures, cb.inFlight, cb.succeeded = StateClosed, 0, 0, 0
	slog.Info("circuit reset", "name", cb.cfg.Name)
}
