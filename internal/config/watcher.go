package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls when no interval is set.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives a reload. It runs on the watcher's goroutine.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file for edits. A new file content that parses and
// validates replaces the current config; invalid edits are logged and the
// previous config stays current.
//
// Only the file's modification time is checked on each tick; the content is
// read and hashed only when it moved.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	cfg, mtime, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.mtime, w.sum = cfg, mtime, sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and calls onChange for every reload that
// changes something [Diff] tracks. It always returns nil.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		old, cfg, d, err := w.Check()
		if err != nil {
			slog.Warn("config reload skipped", "path", w.path, "err", err)
			continue
		}
		if cfg == nil || d.Empty() {
			continue
		}
		slog.Info("configuration reloaded",
			"path", w.path,
			"log_level_changed", d.LogLevelChanged,
			"session_changed", d.SessionChanged,
			"restart_required", d.RestartRequired,
		)
		if onChange != nil {
			onChange(old, cfg, d)
		}
	}
}

// Check polls the file once. It returns a nil new config when the file is
// unchanged, and an error when it cannot be read or no longer validates.
func (w *Watcher) Check() (old, cfg *Config, d ConfigDiff, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, ConfigDiff{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.mtime) {
		return nil, nil, ConfigDiff{}, nil
	}

	next, mtime, sum, err := w.read()
	if err != nil {
		return nil, nil, ConfigDiff{}, err
	}
	w.mtime = mtime
	if sum == w.sum {
		// Touched, not edited.
		return nil, nil, ConfigDiff{}, nil
	}

	old = w.current
	w.current, w.sum = next, sum
	return old, next, Diff(old, next), nil
}

func (w *Watcher) read() (*Config, time.Time, [sha256.Size]byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, [sha256.Size]byte{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, time.Time{}, [sha256.Size]byte{}, err
	}
	return cfg, info.ModTime(), sha256.Sum256(data), nil
}
