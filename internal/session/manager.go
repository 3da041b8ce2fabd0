package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/featureboard/internal/transcript"
)

// Manager keeps the live sessions of a process, keyed by id. Sessions are
// created on first use and share one [Analyzer], and therefore one graph.
//
// All methods are safe for concurrent use.
type Manager struct {
	base Config
	ctx  context.Context

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a Manager that creates sessions from base. base.ID is
// ignored. Sessions are started with ctx's values.
func NewManager(ctx context.Context, base Config) *Manager {
	return &Manager{
		base:     base,
		ctx:      context.WithoutCancel(ctx),
		sessions: make(map[string]*Session),
	}
}

// Get returns the session with id, starting a new one if none exists.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStopped
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	cfg := m.base
	cfg.ID = id
	s := New(cfg)
	s.Start(m.ctx)
	m.sessions[id] = s
	slog.Info("session started", "session_id", id)
	return s, nil
}

// Deliver routes ev to the session with id, starting it if needed.
func (m *Manager) Deliver(id string, ev transcript.Event) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Accept(ev)
}

// SetTimings changes the trigger timings for sessions started from now on.
// Zero values keep the current setting.
func (m *Manager) SetTimings(pauseDebounce, flushInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pauseDebounce > 0 {
		m.base.PauseDebounce = pauseDebounce
	}
	if flushInterval > 0 {
		m.base.FlushInterval = flushInterval
	}
	slog.Info("session timings updated",
		"pause_debounce", m.base.PauseDebounce,
		"flush_interval", m.base.FlushInterval)
}

// Lookup returns the session with id if it is live.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns the ids of all live sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

// Stop stops and forgets the session with id and returns its transcript.
func (m *Manager) Stop(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return "", ErrStopped
	}
	return s.Stop(ctx)
}

// Close stops every session. Errors from final passes are joined.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if _, err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
