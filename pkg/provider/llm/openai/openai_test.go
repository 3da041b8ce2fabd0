package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/pkg/provider/llm"
)

// chatServer answers every chat completion with content and finishReason
// and hands the decoded request body to the test.
func chatServer(t *testing.T, content, finishReason string) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		select {
		case bodies <- body:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": finishReason,
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestComplete_JSONMode(t *testing.T) {
	t.Parallel()

	srv, bodies := chatServer(t, `{"type":"feature","confidence":0.9}`, "stop")
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Classify the transcript. Answer in JSON.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "we need Google login"}},
		MaxTokens:    500,
		JSON:         true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"feature","confidence":0.9}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, resp.Usage)

	body := <-bodies
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	assert.EqualValues(t, 500, body["max_completion_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Classify the transcript. Answer in JSON.", msgs[0].(map[string]any)["content"])
}

func TestComplete_Truncated(t *testing.T) {
	t.Parallel()

	srv, _ := chatServer(t, `{"name":"Goo`, "length")
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrTruncated))
	require.NotNil(t, resp)
	assert.Equal(t, "length", resp.FinishReason)
}

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You classify."})
	require.NoError(t, err)
	assert.NotNil(t, sys.OfSystem)

	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.NotNil(t, usr.OfUser)

	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "{}"})
	require.NoError(t, err)
	assert.NotNil(t, asst.OfAssistant)

	_, err = convertMessage(llm.Message{Role: "tool", Content: "x"})
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("", "gpt-4o-mini")
	require.Error(t, err)
	_, err = New("sk-test", "")
	require.Error(t, err)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:1234/v1"), WithOrganization("org"))
	require.NoError(t, err)
	assert.Equal(t, llm.LookupCapabilities("gpt-4o-mini"), p.Capabilities())
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini", caps: llm.LookupCapabilities("gpt-4o-mini")}

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		params, err := p.buildParams(llm.CompletionRequest{
			SystemPrompt: "sys",
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: "u"}},
			MaxTokens:    2000,
		})
		require.NoError(t, err)
		require.Len(t, params.Messages, 2)
		assert.NotNil(t, params.Messages[0].OfSystem)
		assert.Equal(t, "gpt-4o-mini", string(params.Model))
		assert.EqualValues(t, 2000, params.MaxCompletionTokens.Value)
		assert.Nil(t, params.ResponseFormat.OfJSONObject)
	})

	t.Run("json without keyword", func(t *testing.T) {
		t.Parallel()
		params, err := p.buildParams(llm.CompletionRequest{
			SystemPrompt: "Extract the feature.",
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: "u"}},
			MaxTokens:    100_000,
			JSON:         true,
		})
		require.NoError(t, err)
		assert.NotNil(t, params.ResponseFormat.OfJSONObject)
		assert.EqualValues(t, 16_384, params.MaxCompletionTokens.Value)
		require.NotNil(t, params.Messages[0].OfSystem)
		assert.Equal(t, "Extract the feature.\n\n"+llm.JSONInstruction, params.Messages[0].OfSystem.Content.OfString.Value)
	})
}
