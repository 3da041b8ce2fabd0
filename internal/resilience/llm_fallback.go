package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several LLM
// backends, each behind its own breaker. Every attempt that reaches a
// backend is recorded as a provider request on the configured
// [observe.Metrics].
//
// A truncated completion ([llm.ErrTruncated]) moves on to the next backend
// but does not count against the breaker: the backend answered, the output
// budget was too small.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary. A nil metrics
// disables recording.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *LLMFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return defaultIsFailure(err) && !errors.Is(err, llm.ErrTruncated)
		}
	}
	if metrics != nil {
		next := cfg.OnAttempt
		cfg.OnAttempt = func(name string, err error, d time.Duration) {
			metrics.RecordProviderRequest(context.Background(), name, attemptStatus(err), d)
			if next != nil {
				next(name, err, d)
			}
		}
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func attemptStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrTruncated):
		return "truncated"
	default:
		return "error"
	}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete returns the first successful completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary backend's model.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Status reports the breaker state of every backend, primary first.
func (f *LLMFallback) Status() []EntryStatus {
	return f.group.Status()
}
