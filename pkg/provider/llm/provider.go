// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and exposes a single blocking completion call.
// The featureboard oracle only ever needs a complete JSON answer per request, so
// streaming and tool calling are not part of the contract.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrTruncated is returned when the model stopped at the token limit. A cut
// off JSON answer cannot be parsed, so providers report it instead of
// returning partial content.
var ErrTruncated = errors.New("llm: completion truncated at max tokens")

// JSONInstruction is appended to the system prompt by providers that cannot
// request a JSON response format natively.
const JSONInstruction = "Respond with a single JSON object and nothing else."

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// messages. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// JSON asks for a response that is exactly one JSON object.
	JSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason is the backend's stop reason, e.g. "stop" or "length".
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model. The
	// result is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
