package llm

import "strings"

// Fallback limits for models not in the family table.
const (
	DefaultContextWindow   = 128_000
	DefaultMaxOutputTokens = 4_096
)

var modelFamilies = []struct {
	prefix string
	window int
	maxOut int
}{
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-3.5-turbo", 16_385, 4_096},
	{"o1", 200_000, 100_000},
	{"o3", 200_000, 100_000},
	{"o4", 200_000, 100_000},
	{"claude", 200_000, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"deepseek", 64_000, 8_192},
	{"mistral", 32_000, 4_096},
	{"llama", 128_000, 4_096},
}

// LookupCapabilities returns the limits of model by family prefix.
func LookupCapabilities(model string) ModelCapabilities {
	caps := ModelCapabilities{
		Model:           model,
		ContextWindow:   DefaultContextWindow,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
	lower := strings.ToLower(model)
	// Strip vendor paths like "meta-llama/" used by Groq and llama.cpp.
	if i := strings.LastIndexByte(lower, '/'); i >= 0 {
		lower = lower[i+1:]
	}
	for _, f := range modelFamilies {
		if strings.HasPrefix(lower, f.prefix) {
			caps.ContextWindow, caps.MaxOutputTokens = f.window, f.maxOut
			break
		}
	}
	return caps
}

// FitMaxTokens clamps want to what model can produce. A non-positive want
// means the provider default and is returned unchanged.
func FitMaxTokens(caps ModelCapabilities, want int) int {
	if want <= 0 || caps.MaxOutputTokens <= 0 || want <= caps.MaxOutputTokens {
		return want
	}
	return caps.MaxOutputTokens
}
