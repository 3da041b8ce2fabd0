package heuristic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/oracle"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	login := []oracle.FeatureSummary{{ID: "f1", Name: "Login", Summary: "Sign in"}}
	tests := []struct {
		name     string
		text     string
		features []oracle.FeatureSummary
		want     oracle.Kind
		minConf  float64
		maxConf  float64
	}{
		{"filler", "um okay yeah", nil, oracle.KindNoise, 0.86, 1},
		{"short chatter", "hi there", nil, oracle.KindNoise, 0.86, 1},
		{"feature keywords", "users should be able to log in with Google", nil, oracle.KindFeature, 0.6, 0.85},
		{"capability of existing", "the login should also support magic links", login, oracle.KindCapability, 0.6, 0.85},
		{"addition without features", "the login should also support magic links", nil, oracle.KindNoise, 0, 0.85},
		{"unknown talk", "we were talking about the weekend trip and stuff", nil, oracle.KindNoise, 0, 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := New().Classify(context.Background(), tt.text, tt.features)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Type)
			assert.GreaterOrEqual(t, c.Confidence, tt.minConf)
			assert.LessOrEqual(t, c.Confidence, tt.maxConf)
			assert.NotEmpty(t, c.Reasoning)
		})
	}
}

func TestExtractFeature_CapabilitiesAndQuestions(t *testing.T) {
	t.Parallel()

	d, err := New().ExtractFeature(context.Background(),
		"Users should be able to sign in with Google. Should we support Apple?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Name)
	assert.Equal(t, []string{"Sign in with Google"}, d.KeyCapabilities)
	assert.Equal(t, []string{"Should we support Apple?"}, d.OpenQuestions)
	assert.Nil(t, d.TechnicalApproach)
}

func TestExtractFeature_AreaNameAndTechTerms(t *testing.T) {
	t.Parallel()

	d, err := New().ExtractFeature(context.Background(), "We need a billing page using Stripe and Postgres", nil)
	require.NoError(t, err)
	assert.Equal(t, "Billing & Payments", d.Name)
	assert.Equal(t, []string{"Billing page using Stripe"}, d.KeyCapabilities)
	require.NotNil(t, d.TechnicalApproach)
	assert.Equal(t, []string{"Postgres", "Stripe"}, d.TechnicalApproach.Options)
}

func TestExtractFeature_FallsBackToSegments(t *testing.T) {
	t.Parallel()

	d, err := New().ExtractFeature(context.Background(), "", []string{"recipe sharing", "with friends"})
	require.NoError(t, err)
	assert.Equal(t, "Recipe Sharing Friends", d.Name)
	assert.Equal(t, "recipe sharing with friends", d.Summary)
}

func TestMatchFeature(t *testing.T) {
	t.Parallel()

	candidates := []oracle.FeatureCandidate{
		{ID: "f1", Name: "Authentication", KeyCapabilities: []string{"Email login"}},
		{ID: "f2", Name: "Billing & Payments", Summary: "Charge users", KeyCapabilities: []string{"Monthly plan"}},
	}

	m, err := New().MatchFeature(context.Background(), "add annual billing plans", candidates)
	require.NoError(t, err)
	assert.Equal(t, "f2", m.MatchedID)
	assert.Greater(t, m.Confidence, 0.5)

	m, err = New().MatchFeature(context.Background(), "recipe sharing with friends", candidates)
	require.NoError(t, err)
	assert.Empty(t, m.MatchedID)

	m, err = New().MatchFeature(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, m.MatchedID)
}

func TestMatchFeature_ToleratesMisrecognition(t *testing.T) {
	t.Parallel()

	candidates := []oracle.FeatureCandidate{{ID: "f1", Name: "Checkout"}}
	m, err := New().MatchFeature(context.Background(), "the chekout flow needs coupons", candidates)
	require.NoError(t, err)
	assert.Equal(t, "f1", m.MatchedID)
}

func TestExtractCapability(t *testing.T) {
	t.Parallel()

	c, err := New().ExtractCapability(context.Background(), "it should also support magic links")
	require.NoError(t, err)
	assert.Equal(t, "Support magic links", c.Title)
	assert.Equal(t, "it should also support magic links", c.Description)

	c, err = New().ExtractCapability(context.Background(), "dark mode toggle")
	require.NoError(t, err)
	assert.Equal(t, "Dark Mode Toggle", c.Title)
}

func TestClauses(t *testing.T) {
	t.Parallel()

	got := clauses("Login with Google and GitHub. What about SSO? Fine")
	assert.Equal(t, []string{"Login with Google", "GitHub", "What about SSO?", "Fine"}, got)
}
