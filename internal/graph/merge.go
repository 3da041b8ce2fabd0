package graph

import (
	"strings"
	"time"
)

// mergeDetails folds d into f. Scalars are replaced only by non-empty values,
// the technical approach only by a present one, and list fields are unioned
// with exact, case-sensitive dedupe preserving existing order. Name, color
// and centroid are never touched.
func mergeDetails(f *Feature, d Details) {
	if d.Summary != "" {
		f.Summary = d.Summary
	}
	if d.UserValue != "" {
		f.UserValue = d.UserValue
	}
	if d.TechnicalApproach != nil {
		f.TechnicalApproach = &TechnicalApproach{
			Options:        cloneStrings(d.TechnicalApproach.Options),
			Considerations: cloneStrings(d.TechnicalApproach.Considerations),
		}
	}
	f.KeyCapabilities = union(f.KeyCapabilities, d.KeyCapabilities)
	f.OpenQuestions = union(f.OpenQuestions, d.OpenQuestions)
	f.RelatedFeatures = union(f.RelatedFeatures, d.RelatedFeatures)
}

func appendHistory(f *Feature, at time.Time, transcript, insights string) {
	f.ConversationHistory = append(f.ConversationHistory, ConversationEntry{
		Timestamp:  at,
		Transcript: transcript,
		Insights:   insights,
	})
}

// union appends every element of add not already in base.
func union(base, add []string) []string {
	if len(add) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	out := base
	for _, s := range add {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// NewCapabilityNames returns the extracted names that deserve a new
// capability node: those in neither the feature's existing key capabilities
// nor the titles of its existing capability nodes. Key capabilities match
// exactly, like [union]; node titles match case-insensitively after
// trimming. Blank names are skipped and the result has no duplicates.
func NewCapabilityNames(existingKeyCaps, existingTitles, extracted []string) []string {
	keyCaps := make(map[string]struct{}, len(existingKeyCaps))
	for _, s := range existingKeyCaps {
		keyCaps[s] = struct{}{}
	}
	titles := make(map[string]struct{}, len(existingTitles)+len(extracted))
	for _, s := range existingTitles {
		titles[normalize(s)] = struct{}{}
	}

	var out []string
	for _, s := range extracted {
		key := normalize(s)
		if key == "" {
			continue
		}
		if _, ok := keyCaps[s]; ok {
			continue
		}
		if _, ok := titles[key]; ok {
			continue
		}
		titles[key] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
