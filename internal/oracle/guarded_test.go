package oracle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/internal/oracle/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

func TestGuarded_PrimaryAnswers(t *testing.T) {
	t.Parallel()

	primary := &mock.Oracle{Classification: oracle.Classification{Type: oracle.KindFeature, Confidence: 0.9}}
	fallback := &mock.Oracle{}
	g := oracle.NewGuarded(primary, oracle.WithFallback(fallback), oracle.WithMetrics(testMetrics(t)))

	c, err := g.Classify(context.Background(), "login with google", nil)
	require.NoError(t, err)
	assert.Equal(t, oracle.KindFeature, c.Type)
	assert.Empty(t, fallback.Calls())
}

func TestGuarded_FallsBackOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	primary := &mock.Oracle{
		ClassifyErr:          boom,
		ExtractFeatureErr:    boom,
		MatchFeatureErr:      boom,
		ExtractCapabilityErr: boom,
	}
	fallback := &mock.Oracle{
		Classification: oracle.Classification{Type: oracle.KindCapability, Confidence: 0.7},
		FeatureDetails: oracle.FeatureDetails{Name: "Login"},
		Match:          oracle.Match{MatchedID: "f1", Confidence: 0.8},
		Capability:     oracle.CapabilityDetails{Title: "Magic links"},
	}
	g := oracle.NewGuarded(primary, oracle.WithFallback(fallback), oracle.WithMetrics(testMetrics(t)))
	ctx := context.Background()

	c, err := g.Classify(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, oracle.KindCapability, c.Type)

	d, err := g.ExtractFeature(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "Login", d.Name)

	m, err := g.MatchFeature(ctx, "x", []oracle.FeatureCandidate{{ID: "f1"}})
	require.NoError(t, err)
	assert.Equal(t, "f1", m.MatchedID)

	cd, err := g.ExtractCapability(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Magic links", cd.Title)

	assert.Len(t, fallback.Calls(), 4)
}

func TestGuarded_DefaultsWhenEverythingFails(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	primary := &mock.Oracle{ClassifyErr: boom, ExtractFeatureErr: boom, MatchFeatureErr: boom, ExtractCapabilityErr: boom}
	fallback := &mock.Oracle{ClassifyErr: boom, ExtractFeatureErr: boom, MatchFeatureErr: boom, ExtractCapabilityErr: boom}
	g := oracle.NewGuarded(primary, oracle.WithFallback(fallback), oracle.WithMetrics(testMetrics(t)))
	ctx := context.Background()

	c, err := g.Classify(ctx, "we need dark mode", nil)
	require.NoError(t, err)
	assert.Equal(t, oracle.DefaultClassification(), c)

	d, err := g.ExtractFeature(ctx, "we need dark mode for the settings page", nil)
	require.NoError(t, err)
	assert.Equal(t, "we need dark mode...", d.Name)
	assert.Equal(t, "we need dark mode for the settings page", d.Summary)

	m, err := g.MatchFeature(ctx, "x", nil)
	require.NoError(t, err)
	assert.Empty(t, m.MatchedID)

	cd, err := g.ExtractCapability(ctx, "  export csv ")
	require.NoError(t, err)
	assert.Equal(t, "export csv", cd.Title)
	assert.Equal(t, "export csv", cd.Description)
}

func TestGuarded_NoFallbackUsesDefault(t *testing.T) {
	t.Parallel()

	g := oracle.NewGuarded(&mock.Oracle{MatchFeatureErr: errors.New("down")}, oracle.WithMetrics(testMetrics(t)))
	m, err := g.MatchFeature(context.Background(), "x", []oracle.FeatureCandidate{{ID: "f1"}})
	require.NoError(t, err)
	assert.Equal(t, oracle.DefaultMatch(), m)
}

func TestTitleFromText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Untitled", oracle.TitleFromText("   ", 4))
	assert.Equal(t, "one two", oracle.TitleFromText(" one  two ", 4))
	assert.Equal(t, "a b c...", oracle.TitleFromText("a b c d", 3))
}

func TestKindValid(t *testing.T) {
	t.Parallel()

	assert.True(t, oracle.KindNoise.Valid())
	assert.False(t, oracle.Kind("bug").Valid())
}
