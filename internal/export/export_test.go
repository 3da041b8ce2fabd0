package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/graph"
)

func board() graph.Snapshot {
	at := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	return graph.Snapshot{
		Version: 7,
		Features: []graph.Feature{
			{
				ID:              "f1",
				Name:            "Google Authentication",
				Summary:         "Users sign in with their Google account",
				UserValue:       "No new password to remember",
				KeyCapabilities: []string{"Google OAuth", "Session persistence"},
				TechnicalApproach: &graph.TechnicalApproach{
					Options: []string{"OIDC via the identity provider"},
				},
				OpenQuestions: []string{"Do we allow <script> in display names?"},
				ConversationHistory: []graph.ConversationEntry{
					{Timestamp: at, Transcript: "users should sign in with google", Insights: "new auth feature"},
				},
			},
			{ID: "f2", Name: "Dark Mode"},
		},
		Capabilities: []graph.Capability{
			{ID: "c1", FeatureID: "f1", Title: "Google OAuth", Description: "Sign in with a Google account"},
			{ID: "c2", FeatureID: "f1", Title: "Session persistence"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatMarkdown, "MD": FormatMarkdown, "markdown": FormatMarkdown, " html ": FormatHTML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	require.Error(t, err)

	assert.Equal(t, "text/html; charset=utf-8", FormatHTML.ContentType())
	assert.Equal(t, "text/markdown; charset=utf-8", FormatMarkdown.ContentType())
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	md := string(Markdown(board()))

	assert.True(t, strings.HasPrefix(md, "# Feature board\n\n_2 features, 2 capabilities (version 7)_\n"), md)
	assert.Contains(t, md, "## Google Authentication\n\nUsers sign in with their Google account\n")
	assert.Contains(t, md, "**User value:** No new password to remember")
	assert.Contains(t, md, "- **Google OAuth**: Sign in with a Google account\n- **Session persistence**\n")
	assert.Contains(t, md, "### Technical options\n\n- OIDC via the identity provider\n")
	assert.Contains(t, md, `- Do we allow \<script\> in display names?`)
	assert.Contains(t, md, "- 2026-03-04 09:30:00: new auth feature\n")
	assert.Contains(t, md, "## Dark Mode\n\n### Capabilities\n\n_None yet._\n")
	assert.NotContains(t, md, "Considerations")
	assert.Less(t, strings.Index(md, "Google Authentication"), strings.Index(md, "Dark Mode"))
}

func TestMarkdown_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "# Feature board\n\n_0 features, 0 capabilities (version 0)_\n", string(Markdown(graph.Snapshot{})))
}

func TestRender_HTML(t *testing.T) {
	t.Parallel()

	out, err := Render(board(), FormatHTML)
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<h1>Feature board</h1>")
	assert.Contains(t, html, "<h2>Google Authentication</h2>")
	assert.Contains(t, html, "<strong>Google OAuth</strong>: Sign in with a Google account")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<script>")
}

func TestEscape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `\#1 \*priority\* \[beta\]`, escape("  #1 *priority* [beta] "))
	assert.Equal(t, "two lines", escape("two\nlines"))
	assert.Equal(t, "1 capability", plural(1, "capability"))
	assert.Equal(t, "3 features", plural(3, "feature"))
}
