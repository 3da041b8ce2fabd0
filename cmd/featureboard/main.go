// Command featureboard turns live product conversations into a feature and
// capability graph.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/featureboard/internal/app"
	"github.com/MrWong99/featureboard/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	// Logs always go to stderr so the mcp command can own stdout.
	levelVar := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	if err := newCLIApp(levelVar).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "featureboard: %v\n", err)
		os.Exit(1)
	}
}

// setLevel applies the configured log level to levelVar.
func setLevel(levelVar *slog.LevelVar, l config.LogLevel) {
	levelVar.Set(app.LogLevel(l))
}
