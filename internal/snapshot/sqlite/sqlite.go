// Package sqlite implements [snapshot.Sink] on an embedded SQLite database
// (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/snapshot"
)

// Schema creates the snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS graph_snapshots (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  version   INTEGER NOT NULL,
  saved_at  INTEGER NOT NULL,
  graph     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_snapshots_saved ON graph_snapshots(saved_at DESC, id DESC);
`

// Sink stores snapshots in a SQLite file.
type Sink struct {
	db   *sql.DB
	keep int
	now  func() time.Time
}

var _ snapshot.Sink = (*Sink)(nil)

// Option configures a [Sink].
type Option func(*Sink)

// WithKeep bounds the number of stored snapshots; older rows are pruned on
// save. Zero keeps everything. Default: 50.
func WithKeep(n int) Option {
	return func(s *Sink) { s.keep = n }
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode and a busy timeout are set on every connection.
func Open(ctx context.Context, path string, opts ...Option) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	s := &Sink{db: db, keep: 50, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save implements [snapshot.Sink].
func (s *Sink) Save(ctx context.Context, snap graph.Snapshot) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graph_snapshots (version, saved_at, graph) VALUES (?, ?, ?)`,
		int64(snap.Version), s.now().UnixMilli(), string(b),
	); err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}
	if s.keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM graph_snapshots WHERE id NOT IN (
			   SELECT id FROM graph_snapshots ORDER BY saved_at DESC, id DESC LIMIT ?)`,
			s.keep,
		); err != nil {
			return fmt.Errorf("sqlite: save: prune: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save: commit: %w", err)
	}
	return nil
}

// Latest implements [snapshot.Sink].
func (s *Sink) Latest(ctx context.Context) (graph.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT graph FROM graph_snapshots ORDER BY saved_at DESC, id DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Snapshot{}, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("sqlite: latest: %w", err)
	}
	return snapshot.Decode([]byte(raw))
}

// Count returns the number of stored snapshots.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// Ping implements [snapshot.Sink].
func (s *Sink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [snapshot.Sink].
func (s *Sink) Close() error {
	return s.db.Close()
}
