package oracle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/featureboard/internal/observe"
)

// Guarded wraps a primary [Oracle] so that every call yields an answer. An
// error from the primary is logged, counted and replaced by the local
// fallback's answer; if the fallback fails too, or none is configured, the
// conservative Default* result is used. Guarded never returns an error.
//
// Guarded is safe for concurrent use when its oracles are.
type Guarded struct {
	primary  Oracle
	fallback Oracle
	metrics  *observe.Metrics
}

var _ Oracle = (*Guarded)(nil)

// GuardOption configures a [Guarded].
type GuardOption func(*Guarded)

// WithFallback sets the oracle consulted when the primary fails.
func WithFallback(o Oracle) GuardOption {
	return func(g *Guarded) { g.fallback = o }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GuardOption {
	return func(g *Guarded) { g.metrics = m }
}

// NewGuarded wraps primary.
func NewGuarded(primary Oracle, opts ...GuardOption) *Guarded {
	g := &Guarded{primary: primary}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Classify implements [Oracle].
func (g *Guarded) Classify(ctx context.Context, text string, features []FeatureSummary) (Classification, error) {
	return guard(ctx, g, CallClassify,
		func(ctx context.Context, o Oracle) (Classification, error) { return o.Classify(ctx, text, features) },
		DefaultClassification(),
	), nil
}

// ExtractFeature implements [Oracle].
func (g *Guarded) ExtractFeature(ctx context.Context, text string, segments []string) (FeatureDetails, error) {
	return guard(ctx, g, CallExtractFeature,
		func(ctx context.Context, o Oracle) (FeatureDetails, error) {
			return o.ExtractFeature(ctx, text, segments)
		},
		DefaultFeatureDetails(text),
	), nil
}

// MatchFeature implements [Oracle].
func (g *Guarded) MatchFeature(ctx context.Context, text string, candidates []FeatureCandidate) (Match, error) {
	return guard(ctx, g, CallMatchFeature,
		func(ctx context.Context, o Oracle) (Match, error) { return o.MatchFeature(ctx, text, candidates) },
		DefaultMatch(),
	), nil
}

// ExtractCapability implements [Oracle].
func (g *Guarded) ExtractCapability(ctx context.Context, text string) (CapabilityDetails, error) {
	return guard(ctx, g, CallExtractCapability,
		func(ctx context.Context, o Oracle) (CapabilityDetails, error) { return o.ExtractCapability(ctx, text) },
		DefaultCapability(text),
	), nil
}

// guard runs call against the primary, then the fallback, then returns def.
// This is a package-level function because Go does not support method-level
// type parameters.
func guard[R any](ctx context.Context, g *Guarded, name string, call func(context.Context, Oracle) (R, error), def R) R {
	ctx, span := observe.StartSpan(ctx, "oracle."+name)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	res, err := call(ctx, g.primary)
	if err == nil {
		g.metrics.RecordOracleCall(ctx, name, "ok", time.Since(start))
		return res
	}
	g.metrics.RecordOracleCall(ctx, name, "error", time.Since(start))
	span.RecordError(err)
	log.Warn("oracle call failed, using local fallback", "call", name, "error", err)

	g.metrics.RecordOracleFallback(ctx, name)
	span.SetAttributes(attribute.Bool("oracle.fallback", true))
	if g.fallback != nil {
		res, ferr := call(ctx, g.fallback)
		if ferr == nil {
			return res
		}
		log.Warn("oracle fallback failed, using default", "call", name, "error", ferr)
	}
	span.SetStatus(codes.Error, "oracle unavailable")
	return def
}
