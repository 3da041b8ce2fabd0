// Package mock provides a scriptable test double for the oracle.Oracle
// interface.
//
// Each method answers, in order of precedence, from its *Func override, its
// *Err field, the next entry of its queue, or its fixed result. All calls
// are recorded and can be inspected with Calls.
//
// Example:
//
//	o := &mock.Oracle{
//	    Classifications: []oracle.Classification{{Type: oracle.KindFeature, Confidence: 0.9}},
//	    FeatureDetails:  oracle.FeatureDetails{Name: "Login"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/featureboard/internal/oracle"
)

// Call records a single oracle invocation.
type Call struct {
	Method     string
	Text       string
	Features   []oracle.FeatureSummary
	Segments   []string
	Candidates []oracle.FeatureCandidate
}

// Oracle is a mock implementation of oracle.Oracle.
type Oracle struct {
	mu sync.Mutex

	// Classifications is a FIFO consumed one per Classify call. Once empty,
	// Classification is returned.
	Classifications []oracle.Classification
	Classification  oracle.Classification
	ClassifyErr     error
	ClassifyFunc    func(ctx context.Context, text string, features []oracle.FeatureSummary) (oracle.Classification, error)

	FeatureDetailsQueue []oracle.FeatureDetails
	FeatureDetails      oracle.FeatureDetails
	ExtractFeatureErr   error
	ExtractFeatureFunc  func(ctx context.Context, text string, segments []string) (oracle.FeatureDetails, error)

	Matches          []oracle.Match
	Match            oracle.Match
	MatchFeatureErr  error
	MatchFeatureFunc func(ctx context.Context, text string, candidates []oracle.FeatureCandidate) (oracle.Match, error)

	CapabilityQueue       []oracle.CapabilityDetails
	Capability            oracle.CapabilityDetails
	ExtractCapabilityErr  error
	ExtractCapabilityFunc func(ctx context.Context, text string) (oracle.CapabilityDetails, error)

	calls []Call
}

var _ oracle.Oracle = (*Oracle)(nil)

// Classify implements oracle.Oracle.
func (o *Oracle) Classify(ctx context.Context, text string, features []oracle.FeatureSummary) (oracle.Classification, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Method: oracle.CallClassify, Text: text, Features: features})
	fn := o.ClassifyFunc
	if fn == nil {
		defer o.mu.Unlock()
		if o.ClassifyErr != nil {
			return oracle.Classification{}, o.ClassifyErr
		}
		return next(&o.Classifications, o.Classification), nil
	}
	o.mu.Unlock()
	return fn(ctx, text, features)
}

// ExtractFeature implements oracle.Oracle.
func (o *Oracle) ExtractFeature(ctx context.Context, text string, segments []string) (oracle.FeatureDetails, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Method: oracle.CallExtractFeature, Text: text, Segments: segments})
	fn := o.ExtractFeatureFunc
	if fn == nil {
		defer o.mu.Unlock()
		if o.ExtractFeatureErr != nil {
			return oracle.FeatureDetails{}, o.ExtractFeatureErr
		}
		return next(&o.FeatureDetailsQueue, o.FeatureDetails), nil
	}
	o.mu.Unlock()
	return fn(ctx, text, segments)
}

// MatchFeature implements oracle.Oracle.
func (o *Oracle) MatchFeature(ctx context.Context, text string, candidates []oracle.FeatureCandidate) (oracle.Match, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Method: oracle.CallMatchFeature, Text: text, Candidates: candidates})
	fn := o.MatchFeatureFunc
	if fn == nil {
		defer o.mu.Unlock()
		if o.MatchFeatureErr != nil {
			return oracle.Match{}, o.MatchFeatureErr
		}
		return next(&o.Matches, o.Match), nil
	}
	o.mu.Unlock()
	return fn(ctx, text, candidates)
}

// ExtractCapability implements oracle.Oracle.
func (o *Oracle) ExtractCapability(ctx context.Context, text string) (oracle.CapabilityDetails, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Method: oracle.CallExtractCapability, Text: text})
	fn := o.ExtractCapabilityFunc
	if fn == nil {
		defer o.mu.Unlock()
		if o.ExtractCapabilityErr != nil {
			return oracle.CapabilityDetails{}, o.ExtractCapabilityErr
		}
		return next(&o.CapabilityQueue, o.Capability), nil
	}
	o.mu.Unlock()
	return fn(ctx, text)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (o *Oracle) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Call, len(o.calls))
	copy(out, o.calls)
	return out
}

// Methods returns the method names of the recorded calls in order.
func (o *Oracle) Methods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.calls))
	for i, c := range o.calls {
		out[i] = c.Method
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = nil
}

func next[T any](queue *[]T, fallback T) T {
	if len(*queue) == 0 {
		return fallback
	}
	v := (*queue)[0]
	*queue = (*queue)[1:]
	return v
}
