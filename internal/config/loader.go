package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames holds the LLM backends this build knows, keyed by
// provider kind. Other names only produce a warning.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
}

// Load opens the board config at path and returns it validated.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader is [Load] without the file. Unknown keys are rejected and
// an empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in cfg at once, joined. Soft problems,
// such as an unknown provider name, are logged instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFast.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && (cfg.Providers.LLMFast.Name != "" || len(cfg.Providers.LLMFallbacks) > 0) {
		errs = append(errs, errors.New("providers.llm_fast and providers.llm_fallbacks require providers.llm"))
	}
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.Cooldown < 0 || b.Probes < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	// Oracle
	if cfg.Oracle.Mode != "" && !cfg.Oracle.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("oracle.mode %q is invalid; valid values: llm, heuristic", cfg.Oracle.Mode))
	}
	if cfg.Oracle.Mode == OracleLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("oracle.mode llm requires providers.llm"))
	}
	for name, tier := range map[string]TierConfig{"fast": cfg.Oracle.Fast, "standard": cfg.Oracle.Standard} {
		if tier.Temperature < 0 || tier.Temperature > 2 {
			errs = append(errs, fmt.Errorf("oracle.%s.temperature %.2f is out of range [0, 2]", name, tier.Temperature))
		}
		if tier.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("oracle.%s.max_tokens must not be negative", name))
		}
	}
	if cfg.Providers.LLM.Name == "" && cfg.Oracle.Mode == "" {
		slog.Warn("providers.llm is not configured; using the offline heuristic oracle")
	}

	// Session
	if cfg.Session.PauseDebounce < 0 {
		errs = append(errs, errors.New("session.pause_debounce must not be negative"))
	}
	if cfg.Session.FlushInterval < 0 {
		errs = append(errs, errors.New("session.flush_interval must not be negative"))
	}
	if d, i := cfg.Session.PauseDebounce, cfg.Session.FlushInterval; d > 0 && i > 0 && i <= d {
		slog.Warn("session.flush_interval is not longer than session.pause_debounce; the pause trigger will rarely fire",
			"pause_debounce", d, "flush_interval", i)
	}

	// Layout
	if cfg.Layout.NodeWidth < 0 || cfg.Layout.NodeHeight < 0 || cfg.Layout.Padding < 0 || cfg.Layout.MaxRings < 0 {
		errs = append(errs, errors.New("layout values must not be negative"))
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if cfg.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when kafka is enabled"))
		}
	}

	// Snapshot
	if cfg.Snapshot.Driver != "" {
		if !cfg.Snapshot.Driver.IsValid() {
			errs = append(errs, fmt.Errorf("snapshot.driver %q is invalid; valid values: postgres, sqlite, redis, neo4j", cfg.Snapshot.Driver))
		}
		if cfg.Snapshot.DSN == "" {
			errs = append(errs, errors.New("snapshot.dsn is required when snapshot.driver is set"))
		}
	}

	// MCP
	if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, streamable-http", cfg.MCP.Transport))
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	known := ValidProviderNames[kind]
	if name == "" || known == nil || slices.Contains(known, name) {
		return
	}
	slog.Warn("unrecognised provider name", "kind", kind, "name", name, "known", known)
}
