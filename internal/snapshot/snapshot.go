// Package snapshot persists graph snapshots so a restarted process can pick
// up the board where it left off.
//
// A [Sink] stores whole [graph.Snapshot] values as JSON documents. The
// [Journal] subscribes to a [graph.Store] and saves every new version;
// [Restore] loads the latest saved snapshot back into a store at startup.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/featureboard/internal/graph"
)

// ErrNoSnapshot is returned by [Sink.Latest] when nothing has been saved yet.
var ErrNoSnapshot = errors.New("snapshot: none saved")

// Sink is durable storage for graph snapshots. Implementations must be safe
// for concurrent use.
type Sink interface {
	// Save appends snap as the newest saved snapshot.
	Save(ctx context.Context, snap graph.Snapshot) error

	// Latest returns the most recently saved snapshot, or [ErrNoSnapshot].
	Latest(ctx context.Context) (graph.Snapshot, error)

	// Ping verifies that the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Encode marshals snap the way every sink stores it.
func Encode(snap graph.Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return b, nil
}

// Decode is the inverse of [Encode].
func Decode(b []byte) (graph.Snapshot, error) {
	var snap graph.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return graph.Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}

// Restore loads the latest snapshot from sink into store. It reports false
// when the sink is empty.
func Restore(ctx context.Context, sink Sink, store *graph.Store) (bool, error) {
	snap, err := sink.Latest(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := store.Restore(snap); err != nil {
		return false, fmt.Errorf("snapshot: restore: %w", err)
	}
	slog.Info("graph restored from snapshot",
		"version", snap.Version,
		"features", len(snap.Features),
		"capabilities", len(snap.Capabilities))
	return true, nil
}

// Journal writes every new store version to a sink.
type Journal struct {
	store   *graph.Store
	sink    Sink
	timeout time.Duration
	saved   chan uint64
	base    uint64
}

// JournalOption configures a [Journal].
type JournalOption func(*Journal)

// WithSaveTimeout bounds each Save call. Default: 5s.
func WithSaveTimeout(d time.Duration) JournalOption {
	return func(j *Journal) { j.timeout = d }
}

// WithSavedNotify makes the journal send each saved version on ch without
// blocking. Used by tests to observe progress.
func WithSavedNotify(ch chan uint64) JournalOption {
	return func(j *Journal) { j.saved = ch }
}

// NewJournal creates a [Journal] for store and sink. Versions up to the
// store's current one are treated as already saved.
func NewJournal(store *graph.Store, sink Sink, opts ...JournalOption) *Journal {
	j := &Journal{store: store, sink: sink, timeout: 5 * time.Second, base: store.Snapshot().Version}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run saves snapshots until ctx is cancelled. The store's subscription
// coalesces bursts, so a slow sink only ever sees the latest version. Run
// returns nil on cancellation.
func (j *Journal) Run(ctx context.Context) error {
	updates, cancel := j.store.Subscribe()
	defer cancel()

	last := j.base
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.Version <= last {
				continue
			}
			if err := j.save(ctx, snap); err != nil {
				slog.Warn("snapshot save failed", "version", snap.Version, "error", err)
				continue
			}
			last = snap.Version
			if j.saved != nil {
				select {
				case j.saved <- snap.Version:
				default:
				}
			}
		}
	}
}

func (j *Journal) save(ctx context.Context, snap graph.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	return j.sink.Save(ctx, snap)
}
