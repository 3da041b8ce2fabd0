// Package redis implements [snapshot.Sink] on Redis. The newest snapshot
// lives under "<prefix>:latest"; a capped list "<prefix>:history" keeps the
// previous versions, newest first.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/snapshot"
)

// Defaults for [Option]s.
const (
	DefaultPrefix  = "featureboard"
	DefaultHistory = 50
)

// Sink is a [snapshot.Sink] backed by Redis.
type Sink struct {
	client  redis.UniversalClient
	prefix  string
	history int64
	owned   bool
}

var _ snapshot.Sink = (*Sink)(nil)

// Option configures a [Sink].
type Option func(*Sink)

// WithPrefix sets the key prefix, so several boards can share a database.
func WithPrefix(p string) Option {
	return func(s *Sink) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithHistory caps how many versions the history list keeps. Zero disables
// the list.
func WithHistory(n int) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.history = int64(n)
		}
	}
}

// New wraps client. The caller keeps ownership; Close does not close it.
func New(client redis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{client: client, prefix: DefaultPrefix, history: DefaultHistory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to a redis:// or rediss:// URL and pings the server.
func Open(ctx context.Context, url string, opts ...Option) (*Sink, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

func (s *Sink) latestKey() string  { return s.prefix + ":latest" }
func (s *Sink) historyKey() string { return s.prefix + ":history" }

// Save implements [snapshot.Sink]. The latest key and the history list are
// updated in one MULTI/EXEC.
func (s *Sink) Save(ctx context.Context, snap graph.Snapshot) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.latestKey(), b, 0)
		if s.history > 0 {
			pipe.LPush(ctx, s.historyKey(), b)
			pipe.LTrim(ctx, s.historyKey(), 0, s.history-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save: %w", err)
	}
	return nil
}

// Latest implements [snapshot.Sink].
func (s *Sink) Latest(ctx context.Context) (graph.Snapshot, error) {
	b, err := s.client.Get(ctx, s.latestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return graph.Snapshot{}, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("redis: latest: %w", err)
	}
	return snapshot.Decode(b)
}

// History returns up to n saved snapshots, newest first.
func (s *Sink) History(ctx context.Context, n int) ([]graph.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.historyKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: history: %w", err)
	}
	out := make([]graph.Snapshot, 0, len(raw))
	for _, r := range raw {
		snap, err := snapshot.Decode([]byte(r))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Ping implements [snapshot.Sink].
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements [snapshot.Sink]. It closes the client only when Open
// created it.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
