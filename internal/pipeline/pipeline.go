// Package pipeline turns one claimed chunk of transcript into graph
// mutations.
//
// A pass classifies the text, routes it to the feature or capability path,
// consults the oracle for details and for a matching existing feature, and
// then performs exactly one [graph.Store] write: create a feature together
// with its capabilities, merge into an existing feature, or add a single
// capability. All oracle work happens before that write, so a failed pass
// never leaves a half-populated entity behind.
//
// Thresholds are strict:
//
//   - noise with confidence above [NoiseDiscardAbove] is discarded;
//   - noise at or below it, and any result under [MinConfidence], is
//     treated as a feature;
//   - a match is accepted only when the id names an existing feature and
//     the confidence is at least [MatchThreshold].
package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/internal/transcript"
)

const (
	// NoiseDiscardAbove is the noise confidence above which text is dropped.
	NoiseDiscardAbove = 0.85

	// MinConfidence is the classification confidence below which the result
	// is overridden to a feature.
	MinConfidence = 0.6

	// MatchThreshold is the minimum match confidence for attaching text to an
	// existing feature.
	MatchThreshold = 0.7
)

// Canvas region in which new feature centroids are placed.
const (
	CentroidMinX  = 100.0
	CentroidSpanX = 400.0
	CentroidMinY  = 100.0
	CentroidSpanY = 300.0
)

// Action describes what a pass did to the graph.
type Action string

// Pass actions.
const (
	ActionDiscarded       Action = "discarded"
	ActionCreated         Action = "created"
	ActionMerged          Action = "merged"
	ActionCapabilityAdded Action = "capability_added"
)

// Outcome reports the result of one pass.
type Outcome struct {
	Action Action

	// Classification is the effective classification after overrides.
	Classification oracle.Classification

	// Overridden is true when a low-confidence result was forced to feature.
	Overridden bool

	// Match is the accepted match, if any.
	Match *oracle.Match

	// Feature is the feature created or updated. Zero for discarded passes.
	Feature graph.Feature

	// Capabilities lists the capabilities created by the pass.
	Capabilities []graph.Capability
}

// CapabilityHook is called after a capability is attached to an existing
// feature through the capability path. It runs synchronously on the pass
// goroutine and must not block.
type CapabilityHook func(ctx context.Context, f graph.Feature, c graph.Capability)

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithRand sets the random source used for new feature centroids.
func WithRand(r *rand.Rand) Option {
	return func(a *Analyzer) { a.rng = r }
}

// WithCapabilityHook registers fn to observe capability additions.
func WithCapabilityHook(fn CapabilityHook) Option {
	return func(a *Analyzer) { a.hook = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer runs passes against a store. It is safe for concurrent use, but
// callers normally serialise passes per session.
type Analyzer struct {
	oracle  oracle.Oracle
	store   *graph.Store
	hook    CapabilityHook
	metrics *observe.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an Analyzer that consults o and writes to store.
func New(o oracle.Oracle, store *graph.Store, opts ...Option) *Analyzer {
	a := &Analyzer{oracle: o, store: store}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Analyze runs one pass over batch. An empty batch is discarded without
// consulting the oracle. Errors come from the oracle or the store; the
// caller is expected to restore the batch.
func (a *Analyzer) Analyze(ctx context.Context, batch transcript.Batch) (Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.analyze")
	defer span.End()

	start := time.Now()
	out, err := a.analyze(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordPass(ctx, "error", time.Since(start))
		return Outcome{}, err
	}

	span.SetAttributes(
		attribute.String("pipeline.action", string(out.Action)),
		attribute.String("pipeline.type", string(out.Classification.Type)),
		attribute.Float64("pipeline.confidence", out.Classification.Confidence),
	)
	a.metrics.RecordPass(ctx, string(out.Action), time.Since(start))
	if out.Action == ActionCreated {
		a.metrics.RecordGrowth(ctx, 1, len(out.Capabilities))
	} else {
		a.metrics.RecordGrowth(ctx, 0, len(out.Capabilities))
	}

	observe.Logger(ctx).Info("pass finished",
		"action", out.Action,
		"type", out.Classification.Type,
		"confidence", out.Classification.Confidence,
		"feature", out.Feature.Name,
		"capabilities", len(out.Capabilities),
	)
	return out, nil
}

func (a *Analyzer) analyze(ctx context.Context, batch transcript.Batch) (Outcome, error) {
	text := batch.Text()
	if text == "" {
		return Outcome{Action: ActionDiscarded, Classification: oracle.Classification{Type: oracle.KindNoise, Confidence: 1}}, nil
	}
	segments := batch.Raw()
	features := a.store.Features()

	cls, err := a.oracle.Classify(ctx, text, summaries(features))
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: classify: %w", err)
	}

	if Discard(cls) {
		return Outcome{Action: ActionDiscarded, Classification: cls}, nil
	}
	effective, overridden := Effective(cls)
	out := Outcome{Classification: effective, Overridden: overridden}

	switch effective.Type {
	case oracle.KindCapability:
		return a.capabilityPath(ctx, out, text, segments, features)
	default:
		return a.featurePath(ctx, out, text, segments, features)
	}
}

// featurePath extracts details, then merges into a matching feature or
// creates a new one.
func (a *Analyzer) featurePath(ctx context.Context, out Outcome, text string, segments []string, features []graph.Feature) (Outcome, error) {
	details, err := a.oracle.ExtractFeature(ctx, text, segments)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: extract feature: %w", err)
	}
	m, err := a.match(ctx, text, features)
	if err != nil {
		return Outcome{}, err
	}

	if m == nil {
		return a.create(out, details, text)
	}

	f, caps, err := a.store.MergeFeature(m.MatchedID, graph.Merge{
		Details:    toDetails(details),
		Transcript: text,
		Insights:   out.Classification.Reasoning,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: merge feature: %w", err)
	}
	out.Action = ActionMerged
	out.Match = m
	out.Feature = f
	out.Capabilities = caps
	return out, nil
}

// capabilityPath attaches a single capability to the matching feature. With
// no match the text is treated as a new feature so no capability is ever
// left without an owner.
func (a *Analyzer) capabilityPath(ctx context.Context, out Outcome, text string, segments []string, features []graph.Feature) (Outcome, error) {
	m, err := a.match(ctx, text, features)
	if err != nil {
		return Outcome{}, err
	}

	if m == nil {
		details, err := a.oracle.ExtractFeature(ctx, text, segments)
		if err != nil {
			return Outcome{}, fmt.Errorf("pipeline: extract feature: %w", err)
		}
		return a.create(out, details, text)
	}

	cd, err := a.oracle.ExtractCapability(ctx, text)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: extract capability: %w", err)
	}
	title := cd.Title
	if title == "" {
		title = oracle.TitleFromText(text, 4)
	}
	f, c, err := a.store.AddCapability(m.MatchedID,
		graph.NewCapability{Title: title, Description: cd.Description},
		text,
		"Added capability: "+title,
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: add capability: %w", err)
	}

	if a.hook != nil {
		a.hook(ctx, f, c)
	}

	out.Action = ActionCapabilityAdded
	out.Match = m
	out.Feature = f
	out.Capabilities = []graph.Capability{c}
	return out, nil
}

func (a *Analyzer) create(out Outcome, details oracle.FeatureDetails, text string) (Outcome, error) {
	d := toDetails(details)
	if d.Name == "" {
		d.Name = oracle.TitleFromText(text, 4)
	}
	caps := make([]graph.NewCapability, len(d.KeyCapabilities))
	for i, kc := range d.KeyCapabilities {
		caps[i] = graph.NewCapability{Title: kc}
	}

	f, created, err := a.store.CreateFeature(graph.NewFeature{
		Details:      d,
		Centroid:     a.randomCentroid(),
		Transcript:   text,
		Insights:     out.Classification.Reasoning,
		Capabilities: caps,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: create feature: %w", err)
	}
	out.Action = ActionCreated
	out.Feature = f
	out.Capabilities = created
	return out, nil
}

// match asks the oracle for a matching feature and returns it only when it
// passes [Accept]. A nil result means no match.
func (a *Analyzer) match(ctx context.Context, text string, features []graph.Feature) (*oracle.Match, error) {
	if len(features) == 0 {
		return nil, nil
	}
	m, err := a.oracle.MatchFeature(ctx, text, candidates(features))
	if err != nil {
		return nil, fmt.Errorf("pipeline: match feature: %w", err)
	}
	if !Accept(m, features) {
		return nil, nil
	}
	return &m, nil
}

func (a *Analyzer) randomCentroid() graph.Point {
	if a.rng == nil {
		return graph.Point{
			X: CentroidMinX + rand.Float64()*CentroidSpanX,
			Y: CentroidMinY + rand.Float64()*CentroidSpanY,
		}
	}
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return graph.Point{
		X: CentroidMinX + a.rng.Float64()*CentroidSpanX,
		Y: CentroidMinY + a.rng.Float64()*CentroidSpanY,
	}
}

// Discard reports whether c is confident noise.
func Discard(c oracle.Classification) bool {
	return c.Type == oracle.KindNoise && c.Confidence > NoiseDiscardAbove
}

// Effective applies the low-confidence override: uncertain noise and any
// result below [MinConfidence] become a feature. The second result reports
// whether the override fired.
func Effective(c oracle.Classification) (oracle.Classification, bool) {
	if c.Type == oracle.KindNoise || c.Confidence < MinConfidence || !c.Type.Valid() {
		c.Type = oracle.KindFeature
		return c, true
	}
	return c, false
}

// Accept reports whether m names one of features with enough confidence.
func Accept(m oracle.Match, features []graph.Feature) bool {
	if m.MatchedID == "" || m.Confidence < MatchThreshold {
		return false
	}
	for _, f := range features {
		if f.ID == m.MatchedID {
			return true
		}
	}
	return false
}

func summaries(features []graph.Feature) []oracle.FeatureSummary {
	out := make([]oracle.FeatureSummary, len(features))
	for i, f := range features {
		out[i] = oracle.FeatureSummary{ID: f.ID, Name: f.Name, Summary: f.Summary}
	}
	return out
}

func candidates(features []graph.Feature) []oracle.FeatureCandidate {
	out := make([]oracle.FeatureCandidate, len(features))
	for i, f := range features {
		out[i] = oracle.FeatureCandidate{ID: f.ID, Name: f.Name, Summary: f.Summary, KeyCapabilities: f.KeyCapabilities}
	}
	return out
}

func toDetails(d oracle.FeatureDetails) graph.Details {
	out := graph.Details{
		Name:            d.Name,
		Summary:         d.Summary,
		UserValue:       d.UserValue,
		KeyCapabilities: d.KeyCapabilities,
		OpenQuestions:   d.OpenQuestions,
		RelatedFeatures: d.RelatedFeatures,
	}
	if d.TechnicalApproach != nil {
		out.TechnicalApproach = &graph.TechnicalApproach{
			Options:        d.TechnicalApproach.Options,
			Considerations: d.TechnicalApproach.Considerations,
		}
	}
	return out
}
