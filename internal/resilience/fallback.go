package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt is called after every attempt that reached a backend.
	// Attempts rejected by an open breaker are not reported.
	OnAttempt func(name string, err error, d time.Duration)
}

// EntryStatus is the health of one entry in a [FallbackGroup].
type EntryStatus struct {
	Name  string
	State State
}

type member[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own [CircuitBreaker]. Register every entry before sharing the group
// between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends backend after the entries already registered.
func (g *FallbackGroup[T]) AddFallback(name string, backend T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, backend: backend, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of entries, primary included.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Primary returns the first registered backend.
func (g *FallbackGroup[T]) Primary() T { return g.members[0].backend }

// Status reports every entry's breaker state in registration order.
func (g *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(g.members))
	for i, m := range g.members {
		out[i] = EntryStatus{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Execute is [Call] for operations without a result.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := Call(ctx, g, func(b T) (struct{}, error) { return struct{}{}, fn(b) })
	return err
}

// Call runs fn against each entry in order and returns the first success.
// Entries with an open breaker are skipped. Once ctx is done no further
// entry is tried and ctx's error is returned. Otherwise the error wraps
// [ErrAllFailed] and every entry's failure.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			start := time.Now()
			var callErr error
			out, callErr = fn(m.backend)
			if g.cfg.OnAttempt != nil {
				g.cfg.OnAttempt(m.name, callErr, time.Since(start))
			}
			return callErr
		})
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback entry skipped, circuit open", "entry", m.name)
			continue
		}
		slog.Warn("fallback entry failed", "entry", m.name, "err", err, "remaining", len(g.members)-i-1)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
