// Package llmoracle implements [oracle.Oracle] on top of an [llm.Provider].
//
// Each oracle call sends a dedicated system prompt and a user message
// carrying the transcript plus the relevant graph context, and expects a
// single JSON object back. Markdown code fences and surrounding prose are
// stripped before parsing. Unlike the local fallback, this package reports
// every provider or parse failure as an error; [oracle.Guarded] turns those
// into local answers.
//
// Calls are split across two model tiers. Classification and matching are
// short, frequent decisions and go to the fast provider; extraction produces
// longer structured output and goes to the standard provider. When no fast
// provider is configured the standard one serves both.
package llmoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/pkg/provider/llm"
)

// Tier holds the sampling settings for one class of calls.
type Tier struct {
	Temperature float64
	MaxTokens   int
}

var (
	// FastTier is used for classification and matching.
	FastTier = Tier{Temperature: 0.2, MaxTokens: 1000}

	// StandardTier is used for extraction.
	StandardTier = Tier{Temperature: 0.3, MaxTokens: 2000}
)

// ErrEmptyResponse is returned when the model answers with no usable JSON.
var ErrEmptyResponse = errors.New("llmoracle: empty response")

const classifySystemPrompt = `You are a senior product manager listening to a loose, live conversation about building a software product.

Decide what the latest transcript chunk is:
- "feature": introduces or describes a product feature or area (e.g. "users should sign in with Google", "we need a billing page with monthly plans").
- "capability": adds one concrete ability to a feature that already exists in the list below (e.g. "and the login should also support magic links").
- "noise": greetings, filler, small talk, vague musing without a decision.

Existing features:
%s

Respond with ONLY a JSON object (no markdown, no prose):
{"type": "feature" | "capability" | "noise", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

const extractFeatureSystemPrompt = `You turn messy spoken product discussion into a structured feature description.

Rules:
- name: 2-5 words, title case, the core feature (e.g. "Google Authentication", "Subscription Billing").
- summary: one or two sentences on what the feature does.
- userValue: why users care, one sentence. Empty string if not discussed.
- keyCapabilities: short noun phrases, one per concrete ability mentioned. Do not invent abilities.
- technicalApproach: only if implementation options were discussed, otherwise null.
- openQuestions: undecided points raised in the conversation.
- relatedFeatures: names of other features mentioned as related.

Respond with ONLY a JSON object (no markdown, no prose):
{"name": "", "summary": "", "userValue": "", "keyCapabilities": [], "technicalApproach": {"options": [], "considerations": []} | null, "openQuestions": [], "relatedFeatures": []}`

const matchFeatureSystemPrompt = `You decide which existing product feature a transcript chunk belongs to.

Candidate features:
%s

Pick the single best candidate by id. If none of them is clearly about the same product area, answer null.

Respond with ONLY a JSON object (no markdown, no prose):
{"matchedId": "<id>" | null, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

const extractCapabilitySystemPrompt = `You extract exactly one concrete product capability from a transcript chunk.

Rules:
- title: 2-6 words naming the ability (e.g. "Magic link login").
- description: one sentence describing the behaviour.

Respond with ONLY a JSON object (no markdown, no prose):
{"title": "", "description": ""}`

// Option is a functional option for configuring an [Oracle].
type Option func(*Oracle)

// WithFastProvider sets the provider used for classification and matching.
func WithFastProvider(p llm.Provider) Option {
	return func(o *Oracle) { o.fast = p }
}

// WithTiers overrides the sampling settings of both tiers.
func WithTiers(fast, standard Tier) Option {
	return func(o *Oracle) {
		o.fastTier = fast
		o.standardTier = standard
	}
}

// Oracle answers oracle calls with an LLM. It is safe for concurrent use.
type Oracle struct {
	standard     llm.Provider
	fast         llm.Provider
	fastTier     Tier
	standardTier Tier
}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns an [Oracle] backed by provider.
func New(provider llm.Provider, opts ...Option) *Oracle {
	o := &Oracle{
		standard:     provider,
		fastTier:     FastTier,
		standardTier: StandardTier,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fast == nil {
		o.fast = o.standard
	}
	return o
}

type classifyResponse struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify implements [oracle.Oracle].
func (o *Oracle) Classify(ctx context.Context, text string, features []oracle.FeatureSummary) (oracle.Classification, error) {
	var list strings.Builder
	if len(features) == 0 {
		list.WriteString("(none yet)\n")
	}
	for _, f := range features {
		fmt.Fprintf(&list, "- [%s] %s: %s\n", f.ID, f.Name, f.Summary)
	}

	var r classifyResponse
	if err := o.complete(ctx, o.fast, o.fastTier, fmt.Sprintf(classifySystemPrompt, list.String()), transcriptMessage(text, nil), &r); err != nil {
		return oracle.Classification{}, fmt.Errorf("llmoracle: classify: %w", err)
	}

	kind := oracle.Kind(strings.ToLower(strings.TrimSpace(r.Type)))
	if !kind.Valid() {
		return oracle.Classification{}, fmt.Errorf("llmoracle: classify: unknown type %q", r.Type)
	}
	return oracle.Classification{
		Type:       kind,
		Confidence: clamp01(r.Confidence),
		Reasoning:  r.Reasoning,
	}, nil
}

// ExtractFeature implements [oracle.Oracle].
func (o *Oracle) ExtractFeature(ctx context.Context, text string, segments []string) (oracle.FeatureDetails, error) {
	var d oracle.FeatureDetails
	if err := o.complete(ctx, o.standard, o.standardTier, extractFeatureSystemPrompt, transcriptMessage(text, segments), &d); err != nil {
		return oracle.FeatureDetails{}, fmt.Errorf("llmoracle: extract feature: %w", err)
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return oracle.FeatureDetails{}, errors.New("llmoracle: extract feature: empty name")
	}
	d.KeyCapabilities = compact(d.KeyCapabilities)
	d.OpenQuestions = compact(d.OpenQuestions)
	d.RelatedFeatures = compact(d.RelatedFeatures)
	if d.TechnicalApproach != nil && len(d.TechnicalApproach.Options) == 0 && len(d.TechnicalApproach.Considerations) == 0 {
		d.TechnicalApproach = nil
	}
	return d, nil
}

type matchResponse struct {
	MatchedID  *string `json:"matchedId"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// MatchFeature implements [oracle.Oracle]. An id the model invents is
// reported as no match.
func (o *Oracle) MatchFeature(ctx context.Context, text string, candidates []oracle.FeatureCandidate) (oracle.Match, error) {
	if len(candidates) == 0 {
		return oracle.Match{Reasoning: "no existing features"}, nil
	}
	ctxJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return oracle.Match{}, fmt.Errorf("llmoracle: match feature: encode candidates: %w", err)
	}

	var r matchResponse
	if err := o.complete(ctx, o.fast, o.fastTier, fmt.Sprintf(matchFeatureSystemPrompt, ctxJSON), transcriptMessage(text, nil), &r); err != nil {
		return oracle.Match{}, fmt.Errorf("llmoracle: match feature: %w", err)
	}

	m := oracle.Match{Confidence: clamp01(r.Confidence), Reasoning: r.Reasoning}
	if r.MatchedID == nil {
		return m, nil
	}
	id := strings.TrimSpace(*r.MatchedID)
	for _, c := range candidates {
		if c.ID == id {
			m.MatchedID = id
			return m, nil
		}
	}
	return oracle.Match{Confidence: 0, Reasoning: fmt.Sprintf("model returned unknown id %q", id)}, nil
}

// ExtractCapability implements [oracle.Oracle].
func (o *Oracle) ExtractCapability(ctx context.Context, text string) (oracle.CapabilityDetails, error) {
	var c oracle.CapabilityDetails
	if err := o.complete(ctx, o.standard, o.standardTier, extractCapabilitySystemPrompt, transcriptMessage(text, nil), &c); err != nil {
		return oracle.CapabilityDetails{}, fmt.Errorf("llmoracle: extract capability: %w", err)
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return oracle.CapabilityDetails{}, errors.New("llmoracle: extract capability: empty title")
	}
	return c, nil
}

func (o *Oracle) complete(ctx context.Context, p llm.Provider, tier Tier, system, user string, out any) error {
	resp, err := p.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Temperature:  tier.Temperature,
		MaxTokens:    tier.MaxTokens,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		JSON:         true,
	})
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return ErrEmptyResponse
	}
	return parseJSON(resp.Content, out)
}

func transcriptMessage(text string, segments []string) string {
	if len(segments) <= 1 {
		return fmt.Sprintf("Transcript: %q", text)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transcript: %q\n\nAs spoken, segment by segment:\n", text)
	for _, s := range segments {
		sb.WriteString("- ")
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// parseJSON decodes the first JSON object in content into out.
func parseJSON(content string, out any) error {
	cleaned := extractObject(stripMarkdown(content))
	if cleaned == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models put around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// extractObject trims any prose before the first '{' and after the last '}'.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func compact(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
