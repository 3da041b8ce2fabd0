// Package oracle defines the language-understanding calls the analysis
// pipeline depends on.
//
// An [Oracle] answers four questions about a chunk of transcript: what kind
// of statement it is, which feature details it carries, which existing
// feature it belongs to, and which single capability it names. Answers are
// best effort. Implementations may be backed by an LLM ([llmoracle]), by
// local keyword heuristics ([heuristic]) or by a test double ([mock]);
// [Guarded] combines a primary implementation with a local fallback so the
// pipeline always gets an answer.
package oracle

import (
	"context"
	"strings"
)

// Kind is the classification of a transcript chunk.
type Kind string

// Classification kinds.
const (
	KindFeature    Kind = "feature"
	KindCapability Kind = "capability"
	KindNoise      Kind = "noise"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFeature, KindCapability, KindNoise:
		return true
	}
	return false
}

// Classification is the result of [Oracle.Classify].
type Classification struct {
	Type       Kind    `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// FeatureSummary is the compact view of an existing feature handed to
// Classify as context.
type FeatureSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// FeatureCandidate is an existing feature offered to MatchFeature.
type FeatureCandidate struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Summary         string   `json:"summary"`
	KeyCapabilities []string `json:"keyCapabilities"`
}

// TechnicalApproach lists implementation options mentioned in the text.
type TechnicalApproach struct {
	Options        []string `json:"options"`
	Considerations []string `json:"considerations"`
}

// FeatureDetails is the result of [Oracle.ExtractFeature].
type FeatureDetails struct {
	Name              string             `json:"name"`
	Summary           string             `json:"summary"`
	UserValue         string             `json:"userValue"`
	KeyCapabilities   []string           `json:"keyCapabilities"`
	TechnicalApproach *TechnicalApproach `json:"technicalApproach,omitempty"`
	OpenQuestions     []string           `json:"openQuestions"`
	RelatedFeatures   []string           `json:"relatedFeatures"`
}

// Match is the result of [Oracle.MatchFeature]. An empty MatchedID means no
// existing feature fits.
type Match struct {
	MatchedID  string  `json:"matchedId"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// CapabilityDetails is the result of [Oracle.ExtractCapability].
type CapabilityDetails struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Oracle is the narrow interface over the language model. Implementations
// must be safe for concurrent use.
type Oracle interface {
	// Classify decides whether text describes a feature, a capability of an
	// existing feature, or noise.
	Classify(ctx context.Context, text string, features []FeatureSummary) (Classification, error)

	// ExtractFeature pulls structured feature details out of text. segments
	// are the raw final segments text was joined from.
	ExtractFeature(ctx context.Context, text string, segments []string) (FeatureDetails, error)

	// MatchFeature picks the existing feature text most likely belongs to.
	MatchFeature(ctx context.Context, text string, candidates []FeatureCandidate) (Match, error)

	// ExtractCapability pulls a single capability out of text.
	ExtractCapability(ctx context.Context, text string) (CapabilityDetails, error)
}

// Call names used in logs, spans and metrics.
const (
	CallClassify          = "classify"
	CallExtractFeature    = "extract_feature"
	CallMatchFeature      = "match_feature"
	CallExtractCapability = "extract_capability"
)

// TitleFromText derives a short title from the first words of text: at most
// maxWords words, with "..." appended when text was longer.
func TitleFromText(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Untitled"
	}
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// Conservative defaults returned when neither the primary oracle nor the
// local fallback produced an answer. A zero-confidence noise result is
// overridden to "feature" by the pipeline, so no input is silently dropped.

// DefaultClassification returns noise with zero confidence.
func DefaultClassification() Classification {
	return Classification{Type: KindNoise, Confidence: 0, Reasoning: "classification unavailable"}
}

// DefaultFeatureDetails names a feature after the first words of text.
func DefaultFeatureDetails(text string) FeatureDetails {
	return FeatureDetails{Name: TitleFromText(text, 4), Summary: strings.TrimSpace(text)}
}

// DefaultMatch returns no match.
func DefaultMatch() Match {
	return Match{Reasoning: "matching unavailable"}
}

// DefaultCapability titles a capability after the first words of text.
func DefaultCapability(text string) CapabilityDetails {
	return CapabilityDetails{Title: TitleFromText(text, 4), Description: strings.TrimSpace(text)}
}
