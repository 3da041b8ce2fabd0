// Package app wires all featureboard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithOracle, WithSink,
// WithKafkaReader, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/featureboard/internal/config"
	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/health"
	"github.com/MrWong99/featureboard/internal/layout"
	"github.com/MrWong99/featureboard/internal/mcpserver"
	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/internal/oracle/heuristic"
	"github.com/MrWong99/featureboard/internal/oracle/llmoracle"
	"github.com/MrWong99/featureboard/internal/pipeline"
	"github.com/MrWong99/featureboard/internal/resilience"
	"github.com/MrWong99/featureboard/internal/server"
	"github.com/MrWong99/featureboard/internal/session"
	"github.com/MrWong99/featureboard/internal/snapshot"
	neo4jsink "github.com/MrWong99/featureboard/internal/snapshot/neo4j"
	"github.com/MrWong99/featureboard/internal/snapshot/postgres"
	redissink "github.com/MrWong99/featureboard/internal/snapshot/redis"
	"github.com/MrWong99/featureboard/internal/snapshot/sqlite"
	kafkasrc "github.com/MrWong99/featureboard/internal/source/kafka"
	"github.com/MrWong99/featureboard/pkg/provider/llm"
)

// DefaultListenAddr is used when server.listen_addr is empty and HTTP
// serving is enabled.
const DefaultListenAddr = ":8080"

// Providers holds the LLM backends behind the oracle. Nil LLM means no
// provider is configured. Populated by [BuildProviders].
type Providers struct {
	// LLM is the standard tier, wrapped in failover across
	// providers.llm_fallbacks.
	LLM llm.Provider

	// LLMFast serves classification and matching. Nil means LLM serves
	// every call.
	LLMFast llm.Provider

	// Status reports the circuit state of every standard tier backend.
	Status func() []resilience.EntryStatus
}

// BuildProviders instantiates the configured LLM providers through reg.
// The primary and its fallbacks share one [resilience.LLMFallback]; every
// attempt is recorded on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	set, err := reg.BuildLLMs(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("build llm providers: %w", err)
	}
	if set.Primary == nil {
		return ps, nil
	}

	fcfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures: cfg.Providers.Breaker.MaxFailures,
		Cooldown:    cfg.Providers.Breaker.Cooldown,
		Probes:      cfg.Providers.Breaker.Probes,
	}}
	fb := resilience.NewLLMFallback(set.Primary.Provider, set.Primary.Label, fcfg, m)
	logProvider("llm", set.Primary)
	for i := range set.Fallbacks {
		b := &set.Fallbacks[i]
		fb.AddFallback(b.Label, b.Provider)
		logProvider("llm_fallback", b)
	}
	ps.LLM = fb
	ps.Status = fb.Status

	if set.Fast != nil {
		ps.LLMFast = resilience.NewLLMFallback(set.Fast.Provider, set.Fast.Label, fcfg, m)
		logProvider("llm_fast", set.Fast)
	}
	return ps, nil
}

func logProvider(kind string, b *config.BuiltLLM) {
	caps := b.Provider.Capabilities()
	slog.Info("provider created",
		"kind", kind,
		"label", b.Label,
		"model", b.Entry.Model,
		"context_window", caps.ContextWindow,
	)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	oracle         oracle.Oracle
	store          *graph.Store
	sink           snapshot.Sink
	journal        *snapshot.Journal
	analyzer       *pipeline.Analyzer
	sessions       *session.Manager
	health         *health.Handler
	mcp            *mcpserver.Server
	server         *server.Server
	kafkaReader    kafkasrc.MessageReader
	consumer       *kafkasrc.Consumer
	passHook       session.PassHook
	watcher        *config.Watcher
	levelVar       *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOracle replaces the oracle built from config.
func WithOracle(o oracle.Oracle) Option {
	return func(a *App) { a.oracle = o }
}

// WithSink injects a snapshot sink instead of opening snapshot.dsn.
func WithSink(s snapshot.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithKafkaReader injects the transcript event reader instead of
// connecting to kafka.brokers. The consumer runs even when kafka is not
// enabled in the config.
func WithKafkaReader(r kafkasrc.MessageReader) Option {
	return func(a *App) { a.kafkaReader = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithPassHook observes every finished analysis pass of every session.
func WithPassHook(fn session.PassHook) Option {
	return func(a *App) { a.passHook = fn }
}

// WithWatcher applies hot-reloadable config edits while Run is active.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// New creates an App by wiring all subsystems together. providers comes
// from [BuildProviders]; a nil value means no LLM is configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Oracle ────────────────────────────────────────────────────────
	if a.oracle == nil {
		o, err := a.buildOracle()
		if err != nil {
			return nil, fmt.Errorf("app: init oracle: %w", err)
		}
		a.oracle = o
	}

	// ── 2. Graph store ───────────────────────────────────────────────────
	a.store = graph.NewStore(graph.WithLayout(layout.New(layoutConfig(cfg.Layout))))

	// ── 3. Snapshot journal ──────────────────────────────────────────────
	if err := a.initSnapshots(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init snapshots: %w", err)
	}

	// ── 4. Pipeline and sessions ─────────────────────────────────────────
	a.analyzer = pipeline.New(a.oracle, a.store,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithCapabilityHook(func(ctx context.Context, f graph.Feature, c graph.Capability) {
			observe.Logger(ctx).Debug("capability attached", "feature", f.Name, "capability", c.Title)
		}),
	)
	a.sessions = session.NewManager(ctx, session.Config{
		Analyzer:      a.analyzer,
		PauseDebounce: cfg.Session.PauseDebounce,
		FlushInterval: cfg.Session.FlushInterval,
		OnPass:        a.onPass,
		Metrics:       a.metrics,
	})

	// ── 5. Health ────────────────────────────────────────────────────────
	var checkers []health.Checker
	if a.sink != nil {
		checkers = append(checkers, health.PingChecker("snapshots", a.sink))
	}
	if a.providers.Status != nil {
		checkers = append(checkers, health.BreakerChecker("llm", a.providers.Status))
	}
	a.health = health.New(checkers...)

	// ── 6. MCP ───────────────────────────────────────────────────────────
	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		a.mcp = mcpserver.New(a.store, a.sessions, a.version)
		if cfg.MCP.Transport != config.MCPStdio {
			mcpHandler = a.mcp.HTTPHandler()
		}
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	a.server = server.New(server.Config{
		Store:          a.store,
		Sessions:       a.sessions,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		MCP:            mcpHandler,
		MCPPath:        cfg.MCP.Path,
	})

	// ── 8. Kafka transcript source ───────────────────────────────────────
	if a.kafkaReader == nil && cfg.Kafka.Enabled {
		a.kafkaReader = kafkasrc.NewReader(kafkasrc.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
	}
	if a.kafkaReader != nil {
		a.consumer = kafkasrc.NewConsumer(a.kafkaReader, a.sessions)
	}

	slog.Info("application initialised",
		"oracle", fmt.Sprintf("%T", a.oracle),
		"snapshots", cfg.Snapshot.Driver,
		"kafka", a.consumer != nil,
		"mcp", cfg.MCP.Enabled,
	)
	return a, nil
}

// buildOracle returns the LLM oracle guarded by the heuristic fallback, or
// the heuristic oracle alone.
func (a *App) buildOracle() (oracle.Oracle, error) {
	mode := a.cfg.Oracle.Mode
	if mode == "" {
		mode = config.OracleHeuristic
		if a.providers.LLM != nil {
			mode = config.OracleLLM
		}
	}
	local := heuristic.New()
	if mode == config.OracleHeuristic {
		return local, nil
	}
	if a.providers.LLM == nil {
		return nil, errors.New("oracle mode llm requires an llm provider")
	}

	opts := []llmoracle.Option{llmoracle.WithTiers(
		tier(a.cfg.Oracle.Fast, llmoracle.FastTier),
		tier(a.cfg.Oracle.Standard, llmoracle.StandardTier),
	)}
	if a.providers.LLMFast != nil {
		opts = append(opts, llmoracle.WithFastProvider(a.providers.LLMFast))
	}
	primary := llmoracle.New(a.providers.LLM, opts...)

	gopts := []oracle.GuardOption{oracle.WithMetrics(a.metrics)}
	if a.cfg.Oracle.UseLocalFallback() {
		gopts = append(gopts, oracle.WithFallback(local))
	}
	return oracle.NewGuarded(primary, gopts...), nil
}

// layoutConfig overlays the positive values of c on the default geometry.
func layoutConfig(c config.LayoutConfig) layout.Config {
	lc := layout.DefaultConfig()
	if c.NodeWidth > 0 {
		lc.NodeWidth = c.NodeWidth
	}
	if c.NodeHeight > 0 {
		lc.NodeHeight = c.NodeHeight
	}
	if c.Padding > 0 {
		lc.Padding = c.Padding
	}
	if c.MaxRings > 0 {
		lc.MaxRings = c.MaxRings
	}
	return lc
}

func tier(c config.TierConfig, def llmoracle.Tier) llmoracle.Tier {
	if c.Temperature > 0 {
		def.Temperature = c.Temperature
	}
	if c.MaxTokens > 0 {
		def.MaxTokens = c.MaxTokens
	}
	return def
}

// initSnapshots opens the configured sink, restores the latest snapshot
// into the store and prepares the journal.
func (a *App) initSnapshots(ctx context.Context) error {
	if a.sink == nil {
		sc := a.cfg.Snapshot
		switch sc.Driver {
		case "":
			return nil
		case config.SnapshotPostgres:
			s, err := postgres.Open(ctx, sc.DSN)
			if err != nil {
				return err
			}
			a.sink = s
		case config.SnapshotSQLite:
			s, err := sqlite.Open(ctx, sc.DSN)
			if err != nil {
				return err
			}
			a.sink = s
		case config.SnapshotRedis:
			s, err := redissink.Open(ctx, sc.DSN)
			if err != nil {
				return err
			}
			a.sink = s
		case config.SnapshotNeo4j:
			s, err := neo4jsink.Open(ctx, sc.DSN)
			if err != nil {
				return err
			}
			a.sink = s
		default:
			return fmt.Errorf("unknown snapshot driver %q", sc.Driver)
		}
	}
	a.closers = append(a.closers, a.sink.Close)

	if _, err := snapshot.Restore(ctx, a.sink, a.store); err != nil {
		return err
	}
	a.journal = snapshot.NewJournal(a.store, a.sink)
	return nil
}

func (a *App) onPass(ctx context.Context, sessionID string, trigger session.Trigger, out pipeline.Outcome, err error) {
	if err == nil && out.Action == pipeline.ActionCreated {
		observe.Logger(observe.WithSession(ctx, sessionID)).Info("feature added to board",
			"trigger", trigger,
			"feature_id", out.Feature.ID,
			"feature", out.Feature.Name,
			"capabilities", len(out.Capabilities))
	}
	if a.passHook != nil {
		a.passHook(ctx, sessionID, trigger, out, err)
	}
}

// Store returns the graph store.
func (a *App) Store() *graph.Store { return a.store }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Handler returns the HTTP handler with every route mounted.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves until ctx is cancelled or a subsystem fails. HTTP is served
// when server.listen_addr is set; the MCP stdio transport ends Run when
// its client disconnects.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var cert, key string
		if tls := a.cfg.Server.TLS; tls != nil {
			cert, key = tls.CertFile, tls.KeyFile
		}
		g.Go(func() error { return a.server.ListenAndServe(ctx, addr, cert, key) })
	}
	if a.journal != nil {
		g.Go(func() error { return a.journal.Run(ctx) })
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(ctx, func(_, _ *config.Config, d config.ConfigDiff) { a.ApplyConfig(d) })
		})
	}
	if a.mcp != nil && a.cfg.MCP.Transport == config.MCPStdio {
		g.Go(func() error {
			defer cancel()
			err := a.mcp.RunStdio(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a config change. Log
// level changes need [WithLevelVar]; session timings apply to sessions
// started afterwards.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.sessions.SetTimings(d.NewSession.PauseDebounce, d.NewSession.FlushInterval)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only take effect after a restart", "sections", d.RestartRequired)
	}
}

// LogLevel maps a config level to its slog level. Unknown values map to
// info.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown tears down all subsystems: readiness goes to draining, every
// session runs its final pass, a last snapshot is saved, then the closers
// run. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining()

		if err := a.sessions.Close(ctx); err != nil {
			slog.Warn("final session passes failed", "err", err)
		}
		if a.sink != nil {
			if err := a.sink.Save(ctx, a.store.Snapshot()); err != nil {
				slog.Warn("final snapshot save failed", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
