package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MrWong99/featureboard/internal/app"
	"github.com/MrWong99/featureboard/internal/config"
	"github.com/MrWong99/featureboard/internal/export"
	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/observe"
)

// shutdownTimeout bounds the final passes and closers after a signal.
const shutdownTimeout = 15 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp(levelVar *slog.LevelVar) *cli.App {
	a := &cli.App{
		Name:    "featureboard",
		Usage:   "Turn live product conversations into a feature graph",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to the YAML configuration file", EnvVars: []string{"FEATUREBOARD_CONFIG"}},
		},
		Commands: []*cli.Command{
			serveCmd(levelVar),
			replayCmd(levelVar),
			mcpCmd(levelVar),
		},
	}
	// Errors are printed by main.
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

// serveCmd creates the serve command.
func serveCmd(levelVar *slog.LevelVar) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP and WebSocket API, consuming Kafka and MCP as configured",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Listen address, overrides server.listen_addr"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			if listen := c.String("listen"); listen != "" {
				cfg.Server.ListenAddr = listen
			}
			if cfg.Server.ListenAddr == "" {
				cfg.Server.ListenAddr = app.DefaultListenAddr
			}
			setLevel(levelVar, cfg.Server.LogLevel)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: Version,
				Global:         true,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(sctx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()
			metrics, err := observe.NewMetrics(tel.MeterProvider)
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			opts := []app.Option{app.WithMetricsHandler(tel.Handler()), app.WithLevelVar(levelVar)}
			if path != "" {
				w, err := config.NewWatcher(path)
				if err != nil {
					return err
				}
				opts = append(opts, app.WithWatcher(w))
			}
			application, err := build(ctx, cfg, metrics, opts...)
			if err != nil {
				return err
			}

			slog.Info("featureboard starting",
				"version", Version,
				"config", path,
				"listen_addr", cfg.Server.ListenAddr,
				"llm", providerLabel(cfg.Providers.LLM),
			)
			return runUntilDone(ctx, application)
		},
	}
}

// replayCmd creates the replay command.
func replayCmd(levelVar *slog.LevelVar) *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Analyse a recorded transcript, one final segment per line; a blank line marks a pause",
		ArgsUsage: "FILE (- for stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Value: "replay", Usage: "Session id"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json, md or html"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("replay: exactly one FILE argument is required")
			}
			format := c.String("format")
			var report export.Format
			if format != "json" {
				f, err := export.ParseFormat(format)
				if err != nil {
					return fmt.Errorf("replay: %w", err)
				}
				report = f
			}
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			setLevel(levelVar, cfg.Server.LogLevel)

			var in io.Reader = os.Stdin
			if name := c.Args().First(); name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return fmt.Errorf("replay: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := build(ctx, cfg, observe.DefaultMetrics())
			if err != nil {
				return err
			}
			transcript, replayErr := application.Replay(ctx, in, c.String("session"))

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := application.Shutdown(sctx); err != nil {
				slog.Warn("shutdown error", "err", err)
			}
			if replayErr != nil {
				return replayErr
			}

			if report != "" {
				body, err := export.Render(application.Store().Snapshot(), report)
				if err != nil {
					return err
				}
				_, err = c.App.Writer.Write(body)
				return err
			}
			return outputJSON(c.App.Writer, replayResult{
				Transcript: transcript,
				Graph:      application.Store().Snapshot(),
			})
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(levelVar *slog.LevelVar) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the board to an MCP client over stdin/stdout",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			cfg.MCP.Enabled = true
			cfg.MCP.Transport = config.MCPStdio
			cfg.Server.ListenAddr = ""
			setLevel(levelVar, cfg.Server.LogLevel)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := build(ctx, cfg, observe.DefaultMetrics())
			if err != nil {
				return err
			}
			return runUntilDone(ctx, application)
		},
	}
}

type replayResult struct {
	Transcript string         `json:"transcript"`
	Graph      graph.Snapshot `json:"graph"`
}

// build instantiates the providers and the application.
func build(ctx context.Context, cfg *config.Config, metrics *observe.Metrics, opts ...app.Option) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	opts = append([]app.Option{app.WithMetrics(metrics), app.WithVersion(Version)}, opts...)
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise application: %w", err)
	}
	return application, nil
}

// runUntilDone runs application until ctx ends or Run returns, then shuts
// it down.
func runUntilDone(ctx context.Context, application *app.App) error {
	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	slog.Info("stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(sctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}

// loadConfig loads path, or the built-in defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""))
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(heuristic only)"
	case e.Model != "":
		return e.Name + "/" + e.Model
	default:
		return e.Name
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
