package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/config"
	"github.com/MrWong99/featureboard/pkg/provider/llm"
	"github.com/MrWong99/featureboard/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  llm_fast:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: anthropic
      api_key: ak-test
      model: claude-haiku
  breaker:
    max_failures: 2
    cooldown: 1m

oracle:
  mode: llm
  local_fallback: false
  fast:
    temperature: 0.1
    max_tokens: 800

session:
  pause_debounce: 1.5s
  flush_interval: 10s

layout:
  node_width: 300
  padding: 16

kafka:
  enabled: true
  brokers: ["localhost:9092"]
  topic: transcripts
  group_id: featureboard

snapshot:
  driver: sqlite
  dsn: /tmp/featureboard.db

mcp:
  enabled: true
  transport: streamable-http
  path: /mcp
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, config.LogInfo, cfg.Server.LogLevel)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.LLMFast.Model)
	require.Len(t, cfg.Providers.LLMFallbacks, 1)
	assert.Equal(t, "anthropic", cfg.Providers.LLMFallbacks[0].Name)
	assert.Equal(t, 2, cfg.Providers.Breaker.MaxFailures)
	assert.Equal(t, time.Minute, cfg.Providers.Breaker.Cooldown)
	assert.Zero(t, cfg.Providers.Breaker.Probes)
	assert.False(t, cfg.Oracle.UseLocalFallback(), "oracle.local_fallback")
	assert.Equal(t, 800, cfg.Oracle.Fast.MaxTokens)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.PauseDebounce)
	assert.Equal(t, 10*time.Second, cfg.Session.FlushInterval)
	assert.InDelta(t, 300, cfg.Layout.NodeWidth, 0)
	assert.Zero(t, cfg.Layout.NodeHeight)
	assert.Equal(t, config.SnapshotSQLite, cfg.Snapshot.Driver)
	assert.Equal(t, config.MCPStreamableHTTP, cfg.MCP.Transport)
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"{}", ""} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		require.NoError(t, err, "document %q", doc)
		assert.True(t, cfg.Oracle.UseLocalFallback(), "local fallback should default to enabled")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := `
server:
  listen_adr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantMsg: "log_level",
		},
		{
			name:    "negative breaker",
			yaml:    "providers:\n  breaker:\n    cooldown: -5s\n",
			wantMsg: "providers.breaker",
		},
		{
			name:    "invalid oracle mode",
			yaml:    "oracle:\n  mode: psychic\n",
			wantMsg: "oracle.mode",
		},
		{
			name:    "invalid snapshot driver",
			yaml:    "snapshot:\n  driver: mongodb\n  dsn: mongodb://localhost\n",
			wantMsg: "snapshot.driver",
		},
		{
			name:    "invalid mcp transport",
			yaml:    "mcp:\n  enabled: true\n  transport: carrier-pigeon\n",
			wantMsg: "transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	require.ErrorIs(t, err, config.ErrProviderNotRegistered)
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &mock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, "m1", gotEntry.Model)
}

func TestRegistry_LLMNames(t *testing.T) {
	reg := config.NewRegistry()
	noop := func(config.ProviderEntry) (llm.Provider, error) { return &mock.Provider{}, nil }
	reg.RegisterLLM("openai", noop)
	reg.RegisterLLM("anthropic", noop)
	reg.RegisterLLM("openai", noop)

	assert.Equal(t, []string{"anthropic", "openai"}, reg.LLMNames())
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	assert.ErrorIs(t, err, wantErr)
}

func TestRegistry_BuildLLMs(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return &mock.Provider{ModelCapabilities: llm.ModelCapabilities{Model: e.Model}}, nil
	})

	set, err := reg.BuildLLMs(config.ProvidersConfig{})
	require.NoError(t, err)
	assert.Nil(t, set.Primary)
	assert.Nil(t, set.Fast)
	assert.Empty(t, set.Fallbacks)

	set, err = reg.BuildLLMs(config.ProvidersConfig{
		LLM:          config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
		LLMFast:      config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		LLMFallbacks: []config.ProviderEntry{{Name: "openai", Model: "gpt-4.1"}, {Name: "openai", Model: "o3-mini"}},
	})
	require.NoError(t, err)
	require.NotNil(t, set.Primary)
	assert.Equal(t, "openai", set.Primary.Label)
	assert.Equal(t, "gpt-4o", set.Primary.Provider.Capabilities().Model)
	require.NotNil(t, set.Fast)
	assert.Equal(t, "openai/fast", set.Fast.Label)
	assert.Equal(t, "gpt-4o-mini", set.Fast.Entry.Model)
	require.Len(t, set.Fallbacks, 2)
	assert.Equal(t, "openai#1", set.Fallbacks[0].Label)
	assert.Equal(t, "openai#2", set.Fallbacks[1].Label)
}

func TestRegistry_BuildLLMsReportsEntry(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &mock.Provider{}, nil })

	_, err := reg.BuildLLMs(config.ProvidersConfig{
		LLM:          config.ProviderEntry{Name: "openai"},
		LLMFallbacks: []config.ProviderEntry{{Name: "openai"}, {Name: "vertex"}},
	})
	require.ErrorIs(t, err, config.ErrProviderNotRegistered)
	assert.Contains(t, err.Error(), "llm_fallbacks[1]", "error should name the failing entry")
}
