// Package heuristic is a deterministic, offline [oracle.Oracle].
//
// It never calls a model. Classification looks for filler-only speech and
// for product, design and technical keywords; extraction splits the text on
// clause boundaries and keeps clauses that state a need; matching scores
// candidates with Jaro-Winkler similarity and Double Metaphone codes, which
// tolerate the misspellings speech recognition produces. It serves as the
// local fallback behind an LLM oracle and as the sole oracle when no LLM is
// configured.
package heuristic

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/oracle"
)

const (
	// minRequirementLen is the shortest text considered a requirement.
	minRequirementLen = 15

	// tokenMatch is the similarity at which two tokens count as the same word.
	tokenMatch = 0.88

	// minMatchScore is the lowest candidate score reported as a match.
	minMatchScore = 0.35
)

var fillerWords = set(
	"um", "uh", "erm", "hmm", "mm", "ah", "oh", "okay", "ok", "so", "yeah", "yes", "no",
	"like", "right", "well", "i", "think", "maybe", "hi", "hello", "hey", "thanks",
	"thank", "you", "cool", "nice", "great", "sure", "alright", "anyway", "just",
	"basically", "actually", "kind", "of", "sort", "the", "a", "and", "that's", "interesting",
)

var stopWords = set(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
	"is", "are", "be", "we", "it", "they", "them", "their", "our", "us", "this", "that",
	"need", "needs", "add", "create", "make", "should", "could", "would", "can", "must",
	"want", "feature", "requirement", "also", "able", "have", "has", "will", "some",
	"there", "then", "when", "what", "which", "so", "like", "just", "really",
)

// keyword groups from which a statement is judged to be a requirement.
var (
	productKeywords   = []string{"price", "pricing", "cost", "user", "users", "feature", "workflow", "plan", "subscription", "customer", "signup", "export"}
	designKeywords    = []string{"design", "ui", "ux", "look", "button", "page", "screen", "layout", "dark mode", "modal", "sidebar"}
	technicalKeywords = []string{"api", "database", "auth", "next", "react", "postgres", "websocket", "redis", "stripe", "oauth", "server", "deploy"}
)

// techTerms are surfaced as technical approach options when mentioned.
var techTerms = []string{
	"Next.js", "React", "PostgreSQL", "Postgres", "Supabase", "Redis", "Stripe",
	"WebSockets", "OAuth", "GraphQL", "REST", "Vercel", "AWS", "Firebase", "Kafka",
}

// capabilityCues introduce an addition to something already discussed.
var capabilityCues = []string{"also", "as well", "additionally", "on top of that", "plus", "and it should", "it should also"}

// needCues mark a clause that states a concrete ability.
var needCues = []string{"should be able to", "able to", "should", "needs to", "need to", "need", "must", "can", "want to", "wants to", "let users", "lets users"}

// Oracle is the keyword and string-similarity oracle. The zero value is
// ready to use and safe for concurrent use.
type Oracle struct{}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns a heuristic Oracle.
func New() *Oracle { return &Oracle{} }

// Classify implements [oracle.Oracle].
//
// Filler-only or very short keyword-free text is noise with high confidence.
// Keyword-bearing text is a feature, or a capability when it carries an
// addition cue and resembles an existing feature. Anything else is
// low-confidence noise, which the pipeline upgrades to a feature.
func (o *Oracle) Classify(_ context.Context, text string, features []oracle.FeatureSummary) (oracle.Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(lower)

	if len(words) == 0 || allFiller(words) {
		return oracle.Classification{Type: oracle.KindNoise, Confidence: 0.95, Reasoning: "filler only"}, nil
	}

	kind, hasKeyword := keywordKind(lower)
	if !hasKeyword && len(lower) < minRequirementLen {
		return oracle.Classification{Type: oracle.KindNoise, Confidence: 0.9, Reasoning: "too short to be a requirement"}, nil
	}

	if hasCue(lower, capabilityCues) && len(features) > 0 {
		best := 0.0
		for _, f := range features {
			best = max(best, similarity(words, tokenize(strings.ToLower(f.Name+" "+f.Summary))))
		}
		if best >= minMatchScore {
			return oracle.Classification{Type: oracle.KindCapability, Confidence: 0.7, Reasoning: "adds to an existing feature"}, nil
		}
	}

	if hasKeyword {
		return oracle.Classification{Type: oracle.KindFeature, Confidence: 0.75, Reasoning: kind + " keywords"}, nil
	}
	return oracle.Classification{Type: oracle.KindNoise, Confidence: 0.5, Reasoning: "no requirement keywords"}, nil
}

// ExtractFeature implements [oracle.Oracle].
func (o *Oracle) ExtractFeature(_ context.Context, text string, segments []string) (oracle.FeatureDetails, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.Join(segments, " ")
	}

	d := oracle.FeatureDetails{
		Name:    featureName(text),
		Summary: text,
	}

	for _, clause := range clauses(text) {
		if strings.HasSuffix(clause, "?") {
			d.OpenQuestions = append(d.OpenQuestions, clause)
			continue
		}
		if c := abilityOf(clause); c != "" {
			d.KeyCapabilities = appendUnique(d.KeyCapabilities, c)
		}
	}

	lower := strings.ToLower(text)
	var options []string
	for _, term := range techTerms {
		if containsWord(lower, strings.ToLower(term)) {
			options = appendUnique(options, term)
		}
	}
	if len(options) > 0 {
		d.TechnicalApproach = &oracle.TechnicalApproach{Options: options}
	}
	return d, nil
}

// MatchFeature implements [oracle.Oracle]. Each candidate is scored by how
// well its name and key capabilities are covered by the text, plus a bonus
// when both talk about the same product area.
func (o *Oracle) MatchFeature(_ context.Context, text string, candidates []oracle.FeatureCandidate) (oracle.Match, error) {
	words := tokenize(strings.ToLower(text))
	textArea, _, textHasArea := graph.AreaOf(text)

	var (
		bestID    string
		bestScore float64
	)
	for _, c := range candidates {
		nameSim := similarity(words, tokenize(strings.ToLower(c.Name)))
		capSim := 0.0
		for _, kc := range c.KeyCapabilities {
			capSim = max(capSim, similarity(words, tokenize(strings.ToLower(kc))))
		}
		areaBonus := 0.0
		if area, _, ok := graph.AreaOf(c.Name + " " + c.Summary); ok && textHasArea && area == textArea {
			areaBonus = 1
		}
		score := 0.5*nameSim + 0.3*capSim + 0.2*areaBonus
		if score > bestScore {
			bestID, bestScore = c.ID, score
		}
	}

	if bestID == "" || bestScore < minMatchScore {
		return oracle.Match{Confidence: bestScore, Reasoning: "no similar feature"}, nil
	}
	return oracle.Match{MatchedID: bestID, Confidence: bestScore, Reasoning: "similar name and capabilities"}, nil
}

// ExtractCapability implements [oracle.Oracle].
func (o *Oracle) ExtractCapability(_ context.Context, text string) (oracle.CapabilityDetails, error) {
	text = strings.TrimSpace(text)
	title := ""
	for _, clause := range clauses(text) {
		if title = abilityOf(clause); title != "" {
			break
		}
	}
	if title == "" {
		title = titleCase(oracle.TitleFromText(strings.Join(significant(tokenize(strings.ToLower(text))), " "), 5))
	}
	return oracle.CapabilityDetails{Title: title, Description: text}, nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func keywordKind(lower string) (string, bool) {
	for _, g := range []struct {
		kind string
		kws  []string
	}{
		{"product", productKeywords},
		{"design", designKeywords},
		{"technical", technicalKeywords},
	} {
		for _, k := range g.kws {
			if containsWord(lower, k) {
				return g.kind, true
			}
		}
	}
	return "", false
}

// featureName picks a short title: the product area when one is mentioned,
// otherwise the first significant words.
func featureName(text string) string {
	if area, _, ok := graph.AreaOf(text); ok {
		return area
	}
	sig := significant(tokenize(strings.ToLower(text)))
	if len(sig) == 0 {
		return oracle.TitleFromText(text, 4)
	}
	if len(sig) > 4 {
		sig = sig[:4]
	}
	return titleCase(strings.Join(sig, " "))
}

// abilityOf returns the words following a need cue in clause, at most six,
// or "" when the clause states no ability.
func abilityOf(clause string) string {
	lower := strings.ToLower(clause)
	src := clause
	if len(lower) != len(clause) {
		src = lower
	}
	for _, cue := range needCues {
		idx := indexWord(lower, cue)
		if idx < 0 {
			continue
		}
		rest := strings.Fields(src[idx+len(cue):])
		for len(rest) > 0 && stopWords[strings.ToLower(trimPunct(rest[0]))] {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return ""
		}
		if len(rest) > 6 {
			rest = rest[:6]
		}
		return capitalize(trimPunct(strings.Join(rest, " ")))
	}
	return ""
}

// clauses splits text on sentence punctuation and on " and ". Question
// marks stay attached so callers can spot open questions.
func clauses(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		switch r {
		case '?':
			cur.WriteRune(r)
			flush()
		case '.', ',', ';', '!', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	var split []string
	for _, c := range out {
		for part := range strings.SplitSeq(c, " and ") {
			if p := strings.TrimSpace(part); p != "" {
				split = append(split, p)
			}
		}
	}
	return split
}

// similarity is the mean, over the reference tokens, of the best match
// against the text tokens. Tokens with equal Double Metaphone codes count as
// a full match.
func similarity(text, ref []string) float64 {
	ref = significant(ref)
	text = significant(text)
	if len(ref) == 0 || len(text) == 0 {
		return 0
	}
	var total float64
	for _, r := range ref {
		best := 0.0
		for _, t := range text {
			best = max(best, tokenSimilarity(t, r))
			if best == 1 {
				break
			}
		}
		if best >= tokenMatch {
			total += best
		}
	}
	return total / float64(len(ref))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) > 3 && len(b) > 3 {
		pa, _ := matchr.DoubleMetaphone(a)
		pb, _ := matchr.DoubleMetaphone(b)
		if pa != "" && pa == pb {
			return 1
		}
	}
	return matchr.JaroWinkler(a, b, false)
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func significant(words []string) []string {
	var out []string
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] && !fillerWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func allFiller(words []string) bool {
	for _, w := range words {
		if !fillerWords[w] {
			return false
		}
	}
	return true
}

func hasCue(lower string, cues []string) bool {
	for _, c := range cues {
		if indexWord(lower, c) >= 0 {
			return true
		}
	}
	return false
}

func containsWord(lower, kw string) bool { return indexWord(lower, kw) >= 0 }

// indexWord finds kw in s at word boundaries on both sides.
func indexWord(s, kw string) int {
	for i := 0; i <= len(s)-len(kw); {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return -1
		}
		pos := i + j
		end := pos + len(kw)
		if (pos == 0 || !isWordByte(s[pos-1])) && (end == len(s) || !isWordByte(s[end])) {
			return pos
		}
		i = pos + 1
	}
	return -1
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) && r != '\'' })
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return list
		}
	}
	return append(list, s)
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
