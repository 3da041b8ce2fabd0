package llmoracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/pkg/provider/llm"
	"github.com/MrWong99/featureboard/pkg/provider/llm/mock"
)

func reply(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestClassify_ParsesJSON(t *testing.T) {
	t.Parallel()

	p := reply(`{"type":"capability","confidence":0.82,"reasoning":"adds to login"}`)
	o := New(p)

	c, err := o.Classify(context.Background(), "also magic links", []oracle.FeatureSummary{
		{ID: "f1", Name: "Login", Summary: "Sign in"},
	})
	require.NoError(t, err)
	assert.Equal(t, oracle.KindCapability, c.Type)
	assert.InDelta(t, 0.82, c.Confidence, 1e-9)
	assert.Equal(t, "adds to login", c.Reasoning)

	calls := p.Calls()
	require.Len(t, calls, 1)
	req := calls[0].Req
	assert.Contains(t, req.SystemPrompt, "[f1] Login: Sign in")
	assert.Equal(t, FastTier.Temperature, req.Temperature)
	assert.Equal(t, FastTier.MaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "also magic links")
}

func TestClassify_StripsFencesAndProse(t *testing.T) {
	t.Parallel()

	o := New(reply("Sure! ```json\n{\"type\":\"NOISE\",\"confidence\":1.4}\n```"))
	c, err := o.Classify(context.Background(), "um okay", nil)
	require.NoError(t, err)
	assert.Equal(t, oracle.KindNoise, c.Type)
	assert.Equal(t, 1.0, c.Confidence, "confidence is clamped")
}

func TestClassify_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{"provider error", &mock.Provider{CompleteErr: errors.New("rate limited")}},
		{"not json", reply("I think it's a feature")},
		{"unknown type", reply(`{"type":"bug","confidence":0.9}`)},
		{"nil response", &mock.Provider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.p).Classify(context.Background(), "text", nil)
			require.Error(t, err)
		})
	}
}

func TestExtractFeature(t *testing.T) {
	t.Parallel()

	p := reply(`{
		"name": " Google Authentication ",
		"summary": "Users sign in with Google",
		"userValue": "No new password",
		"keyCapabilities": ["Google OAuth", " ", "Session handling"],
		"technicalApproach": {"options": ["NextAuth"], "considerations": []},
		"openQuestions": ["Support Apple?"],
		"relatedFeatures": []
	}`)
	o := New(p)

	d, err := o.ExtractFeature(context.Background(), "sign in with google", []string{"sign in", "with google"})
	require.NoError(t, err)
	assert.Equal(t, "Google Authentication", d.Name)
	assert.Equal(t, []string{"Google OAuth", "Session handling"}, d.KeyCapabilities)
	require.NotNil(t, d.TechnicalApproach)
	assert.Equal(t, []string{"NextAuth"}, d.TechnicalApproach.Options)
	assert.Equal(t, []string{"Support Apple?"}, d.OpenQuestions)

	req := p.Calls()[0].Req
	assert.Equal(t, StandardTier.MaxTokens, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Content, "- with google")
}

func TestExtractFeature_EmptyTechnicalApproachDropped(t *testing.T) {
	t.Parallel()

	o := New(reply(`{"name":"Export","technicalApproach":{"options":[],"considerations":[]}}`))
	d, err := o.ExtractFeature(context.Background(), "export", nil)
	require.NoError(t, err)
	assert.Nil(t, d.TechnicalApproach)
}

func TestExtractFeature_EmptyNameIsError(t *testing.T) {
	t.Parallel()

	_, err := New(reply(`{"name":"  "}`)).ExtractFeature(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestMatchFeature(t *testing.T) {
	t.Parallel()

	candidates := []oracle.FeatureCandidate{
		{ID: "f1", Name: "Login"},
		{ID: "f2", Name: "Billing"},
	}

	t.Run("matched", func(t *testing.T) {
		t.Parallel()
		p := reply(`{"matchedId":"f2","confidence":0.91,"reasoning":"pricing"}`)
		m, err := New(p).MatchFeature(context.Background(), "annual plan", candidates)
		require.NoError(t, err)
		assert.Equal(t, "f2", m.MatchedID)
		assert.InDelta(t, 0.91, m.Confidence, 1e-9)
		assert.True(t, strings.Contains(p.Calls()[0].Req.SystemPrompt, `"id": "f2"`))
		assert.True(t, p.Calls()[0].Req.JSON)
	})

	t.Run("null", func(t *testing.T) {
		t.Parallel()
		m, err := New(reply(`{"matchedId":null,"confidence":0.2}`)).MatchFeature(context.Background(), "x", candidates)
		require.NoError(t, err)
		assert.Empty(t, m.MatchedID)
	})

	t.Run("invented id", func(t *testing.T) {
		t.Parallel()
		m, err := New(reply(`{"matchedId":"f9","confidence":0.99}`)).MatchFeature(context.Background(), "x", candidates)
		require.NoError(t, err)
		assert.Empty(t, m.MatchedID)
		assert.Zero(t, m.Confidence)
	})

	t.Run("no candidates skips the model", func(t *testing.T) {
		t.Parallel()
		p := reply(`{}`)
		m, err := New(p).MatchFeature(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Empty(t, m.MatchedID)
		assert.Empty(t, p.Calls())
	})
}

func TestExtractCapability(t *testing.T) {
	t.Parallel()

	c, err := New(reply("```\n{\"title\":\"Magic link login\",\"description\":\"Email a one-time link\"}\n```")).
		ExtractCapability(context.Background(), "magic links")
	require.NoError(t, err)
	assert.Equal(t, "Magic link login", c.Title)
	assert.Equal(t, "Email a one-time link", c.Description)

	_, err = New(reply(`{"title":""}`)).ExtractCapability(context.Background(), "x")
	require.Error(t, err)
}

func TestFastProviderTier(t *testing.T) {
	t.Parallel()

	standard := reply(`{"title":"T"}`)
	fast := reply(`{"type":"feature","confidence":0.9}`)
	o := New(standard, WithFastProvider(fast))

	_, err := o.Classify(context.Background(), "x", nil)
	require.NoError(t, err)
	_, err = o.ExtractCapability(context.Background(), "x")
	require.NoError(t, err)

	assert.Len(t, fast.Calls(), 1)
	assert.Len(t, standard.Calls(), 1)
}

func TestStripMarkdownAndExtractObject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, extractObject(stripMarkdown("```json\n{\"a\":1}\n```")))
	assert.Equal(t, `{"a":{"b":2}}`, extractObject(`result: {"a":{"b":2}} done`))
	assert.Empty(t, extractObject("no json here"))
}
