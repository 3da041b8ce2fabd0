package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when trigger timings changed. New timings apply
	// to sessions started afterwards.
	SessionChanged bool
	NewSession     SessionConfig

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) || !oracleEqual(old.Oracle, new.Oracle) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Layout != new.Layout {
		d.RestartRequired = append(d.RestartRequired, "layout")
	}
	if old.Snapshot != new.Snapshot {
		d.RestartRequired = append(d.RestartRequired, "snapshot")
	}
	if !kafkaEqual(old.Kafka, new.Kafka) {
		d.RestartRequired = append(d.RestartRequired, "kafka")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if a.Breaker != b.Breaker || !entryEqual(a.LLM, b.LLM) || !entryEqual(a.LLMFast, b.LLMFast) || len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !entryEqual(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the identifying fields of two entries. Options are not
// compared.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func oracleEqual(a, b OracleConfig) bool {
	return a.Mode == b.Mode && a.UseLocalFallback() == b.UseLocalFallback() && a.Fast == b.Fast && a.Standard == b.Standard
}

func kafkaEqual(a, b KafkaConfig) bool {
	if a.Enabled != b.Enabled || a.Topic != b.Topic || a.GroupID != b.GroupID || len(a.Brokers) != len(b.Brokers) {
		return false
	}
	for i := range a.Brokers {
		if a.Brokers[i] != b.Brokers[i] {
			return false
		}
	}
	return true
}
