// Package session drives analysis passes for one live conversation.
//
// A [Session] owns a [transcript.Buffer] and decides when the buffered
// speech is handed to the analysis pipeline. Three triggers exist: a pause
// debounce restarted by every final segment, a periodic interval fallback
// for long monologues, and explicit flushes by the user or at stop. At most
// one pass per session runs at a time; see [Session.Flush].
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/pipeline"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// Config configures a [Session].
type Config struct {
	// ID identifies the session in logs and hooks.
	ID string

	// Analyzer runs the passes. Required.
	Analyzer Analyzer

	// PauseDebounce is the silence after a final segment that triggers a
	// flush. Defaults to [DefaultPauseDebounce] if zero.
	PauseDebounce time.Duration

	// FlushInterval is the period of the interval fallback. Defaults to
	// [DefaultFlushInterval] if zero.
	FlushInterval time.Duration

	// OnPass, if set, observes every finished pass.
	OnPass PassHook

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session buffers one conversation's transcript and triggers analysis.
//
// All methods are safe for concurrent use.
type Session struct {
	id       string
	analyzer Analyzer
	debounce time.Duration
	interval time.Duration
	onPass   PassHook
	metrics  *observe.Metrics

	buf *transcript.Buffer

	// ctx is detached from callers so a started pass always runs to
	// completion.
	ctx context.Context

	inFlight atomic.Bool
	passes   sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	stopped bool

	done     chan struct{}
	loopDone chan struct{}
}

// New creates a Session. Call [Session.Start] to arm the interval trigger.
func New(cfg Config) *Session {
	s := &Session{
		id:       cfg.ID,
		analyzer: cfg.Analyzer,
		debounce: cfg.PauseDebounce,
		interval: cfg.FlushInterval,
		onPass:   cfg.OnPass,
		metrics:  cfg.Metrics,
		buf:      transcript.NewBuffer(),
		ctx:      observe.WithSession(context.Background(), cfg.ID),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if s.debounce <= 0 {
		s.debounce = DefaultPauseDebounce
	}
	if s.interval <= 0 {
		s.interval = DefaultFlushInterval
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start arms the interval trigger. Values such as trace context are taken
// from ctx, but its cancellation is ignored; use [Session.Stop].
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx = observe.WithSession(context.WithoutCancel(ctx), s.id)
	go s.loop()
}

// Accept feeds one recognition event into the session. Final, non-blank
// text is queued and restarts the pause debounce; interim text only updates
// [Session.Interim].
func (s *Session) Accept(ev transcript.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, queued := s.buf.Accept(ev); !queued {
		return nil
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.onPause)
	} else {
		s.timer.Reset(s.debounce)
	}
	return nil
}

// Flush runs a pass over everything buffered now. It returns
// [ErrPassInFlight] when another pass is running and [ErrNothingToFlush]
// when the buffer is empty. The pass is not cancelled with ctx.
func (s *Session) Flush(ctx context.Context) (pipeline.Outcome, error) {
	if !s.enter() {
		return pipeline.Outcome{}, ErrStopped
	}
	defer s.passes.Done()
	observe.Logger(observe.WithSession(ctx, s.id)).Debug("explicit flush requested")
	return s.flush(TriggerExplicit)
}

// Stop disarms all triggers, waits for a running pass, analyses whatever is
// still buffered and returns the full session transcript: every final
// segment in arrival order joined with spaces. An error from the last pass
// is returned alongside the transcript. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.buf.Transcript(), nil
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	started := s.started
	close(s.done)
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}
	s.passes.Wait()

	var err error
	if _, ferr := s.flush(TriggerStop); ferr != nil && !errors.Is(ferr, ErrNothingToFlush) {
		err = fmt.Errorf("session %s: final pass: %w", s.id, ferr)
	}

	final := s.buf.Transcript()
	observe.Logger(observe.WithSession(ctx, s.id)).Info("session stopped",
		"segments", len(s.buf.Segments()),
		"pending", s.buf.Len(),
	)
	return final, err
}

// Interim returns the latest non-final recognition text.
func (s *Session) Interim() string { return s.buf.Interim() }

// Pending returns the text queued for the next pass.
func (s *Session) Pending() string { return s.buf.PendingText() }

// Transcript returns all final segments so far joined with spaces.
func (s *Session) Transcript() string { return s.buf.Transcript() }

// InFlight reports whether a pass is running.
func (s *Session) InFlight() bool { return s.inFlight.Load() }

// enter registers a trigger with the pass group unless the session has
// stopped. A successful enter must be paired with s.passes.Done.
func (s *Session) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.passes.Add(1)
	return true
}
