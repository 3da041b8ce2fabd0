// Package postgres implements [snapshot.Sink] on PostgreSQL, storing each
// snapshot as a JSONB document.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/snapshot"
)

// Schema is the SQL DDL for the graph_snapshots table. [Sink.Migrate]
// applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS graph_snapshots (
    id        BIGSERIAL PRIMARY KEY,
    version   BIGINT NOT NULL,
    saved_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    graph     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_snapshots_saved ON graph_snapshots(saved_at DESC, id DESC);
`

// DB is the database interface used by [Sink]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Sink is a [snapshot.Sink] backed by PostgreSQL.
type Sink struct {
	db    DB
	close func()
}

var _ snapshot.Sink = (*Sink)(nil)

// New wraps an existing connection or pool. The caller owns db and must call
// [Sink.Migrate] before the first save.
func New(db DB) *Sink {
	return &Sink{db: db, close: func() {}}
}

// Open connects a pool to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Sink{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Sink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Save implements [snapshot.Sink].
func (s *Sink) Save(ctx context.Context, snap graph.Snapshot) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO graph_snapshots (version, graph) VALUES ($1, $2)`,
		int64(snap.Version), b,
	); err != nil {
		return fmt.Errorf("postgres: save: %w", err)
	}
	return nil
}

// Latest implements [snapshot.Sink].
func (s *Sink) Latest(ctx context.Context) (graph.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT graph FROM graph_snapshots ORDER BY saved_at DESC, id DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return graph.Snapshot{}, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("postgres: latest: %w", err)
	}
	return snapshot.Decode(raw)
}

// Ping implements [snapshot.Sink].
func (s *Sink) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements [snapshot.Sink]. It closes the pool only when the sink
// opened it.
func (s *Sink) Close() error {
	s.close()
	return nil
}
