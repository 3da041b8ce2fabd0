// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for featureboard.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OracleMode selects how transcript chunks are interpreted.
type OracleMode string

const (
	// OracleLLM asks the configured LLM providers, with the heuristic oracle
	// as local fallback.
	OracleLLM OracleMode = "llm"

	// OracleHeuristic uses only the offline keyword and similarity oracle.
	OracleHeuristic OracleMode = "heuristic"
)

// IsValid reports whether m is a recognised oracle mode.
func (m OracleMode) IsValid() bool {
	return m == OracleLLM || m == OracleHeuristic
}

// SnapshotDriver selects the graph snapshot journal backend.
type SnapshotDriver string

const (
	SnapshotPostgres SnapshotDriver = "postgres"
	SnapshotSQLite   SnapshotDriver = "sqlite"
	SnapshotRedis    SnapshotDriver = "redis"
	SnapshotNeo4j    SnapshotDriver = "neo4j"
)

// IsValid reports whether d is a recognised snapshot driver.
func (d SnapshotDriver) IsValid() bool {
	switch d {
	case SnapshotPostgres, SnapshotSQLite, SnapshotRedis, SnapshotNeo4j:
		return true
	}
	return false
}

// MCPTransport is how the MCP server is exposed.
type MCPTransport string

const (
	MCPStdio          MCPTransport = "stdio"
	MCPStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised MCP transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPStdio || t == MCPStreamableHTTP
}

// Config is the root configuration structure for featureboard.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Session   SessionConfig   `yaml:"session"`
	Layout    LayoutConfig    `yaml:"layout"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the LLM providers behind the oracle. Each entry
// selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM is the standard-tier provider used for extraction, and for every
	// call when LLMFast is unset.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFast, if set, serves classification and matching.
	LLMFast ProviderEntry `yaml:"llm_fast"`

	// LLMFallbacks are tried in order when LLM fails or its circuit is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Breaker tunes the circuit breaker in front of every LLM backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes LLM circuit breakers. Zero fields keep the defaults:
// 5 failures, 30s cooldown, 3 probes.
type BreakerConfig struct {
	// MaxFailures is the run of consecutive failures that opens a circuit.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long an open circuit rejects calls before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// Probes is the number of successful trial calls that close a circuit.
	Probes int `yaml:"probes"`
}

// ProviderEntry is the configuration block of one provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OracleConfig tunes the oracle.
type OracleConfig struct {
	// Mode defaults to "llm" when providers.llm is set and "heuristic"
	// otherwise.
	Mode OracleMode `yaml:"mode"`

	// LocalFallback enables the heuristic oracle behind the LLM one.
	// Defaults to true.
	LocalFallback *bool `yaml:"local_fallback"`

	// Fast and Standard override the sampling settings of the two tiers.
	Fast     TierConfig `yaml:"fast"`
	Standard TierConfig `yaml:"standard"`
}

// TierConfig holds sampling settings for one model tier. Zero values keep
// the built-in defaults.
type TierConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// UseLocalFallback reports whether the heuristic fallback is enabled.
func (o OracleConfig) UseLocalFallback() bool {
	return o.LocalFallback == nil || *o.LocalFallback
}

// SessionConfig holds the flush trigger timings. Hot-reloadable for
// sessions started after the change.
type SessionConfig struct {
	PauseDebounce time.Duration `yaml:"pause_debounce"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LayoutConfig sizes capability nodes. Zero values keep the defaults.
type LayoutConfig struct {
	NodeWidth  float64 `yaml:"node_width"`
	NodeHeight float64 `yaml:"node_height"`
	Padding    float64 `yaml:"padding"`
	MaxRings   int     `yaml:"max_rings"`
}

// KafkaConfig configures consumption of speech-ingress transcript events.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// SnapshotConfig configures the graph snapshot journal. An empty driver
// keeps the graph in memory only.
type SnapshotConfig struct {
	Driver SnapshotDriver `yaml:"driver"`

	// DSN is a PostgreSQL connection string, an SQLite file path, a
	// redis:// URL or a neo4j:// URL with credentials and an optional
	// database path.
	DSN string `yaml:"dsn"`
}

// MCPConfig configures the Model Context Protocol server that exposes the
// graph to agents.
type MCPConfig struct {
	Enabled   bool         `yaml:"enabled"`
	Transport MCPTransport `yaml:"transport"`

	// Path is the HTTP mount point for streamable-http. Defaults to "/mcp".
	Path string `yaml:"path"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}
