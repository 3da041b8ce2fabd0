package session

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/pipeline"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// Default trigger timings.
const (
	DefaultPauseDebounce = 1500 * time.Millisecond
	DefaultFlushInterval = 10 * time.Second
)

// Trigger names what requested a flush.
type Trigger string

// Flush triggers.
const (
	TriggerPause    Trigger = "pause"
	TriggerInterval Trigger = "interval"
	TriggerExplicit Trigger = "explicit"
	TriggerStop     Trigger = "stop"
)

var (
	// ErrPassInFlight is returned by an explicit flush while another pass
	// of the same session is running. The buffered text is left for the
	// next trigger.
	ErrPassInFlight = errors.New("session: analysis pass in flight")

	// ErrNothingToFlush is returned by an explicit flush of an empty buffer.
	ErrNothingToFlush = errors.New("session: nothing to flush")

	// ErrStopped is returned after [Session.Stop].
	ErrStopped = errors.New("session: stopped")
)

// Analyzer runs one analysis pass. [*pipeline.Analyzer] satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, batch transcript.Batch) (pipeline.Outcome, error)
}

// PassHook observes every finished pass. It runs on the pass goroutine.
type PassHook func(ctx context.Context, sessionID string, trigger Trigger, out pipeline.Outcome, err error)

// flush claims the in-flight flag, drains the buffer and runs one pass.
//
// The flag is taken with a compare-and-swap before anything else happens,
// so two triggers firing together can never both claim the same text. On
// error the batch goes back to the front of the buffer. The flag is always
// released.
func (s *Session) flush(trigger Trigger) (pipeline.Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.RecordFlush(s.ctx, string(trigger), "in_flight")
		return pipeline.Outcome{}, ErrPassInFlight
	}
	defer s.inFlight.Store(false)

	batch, ok := s.buf.Claim()
	if !ok {
		s.metrics.RecordFlush(s.ctx, string(trigger), "empty")
		return pipeline.Outcome{}, ErrNothingToFlush
	}
	s.metrics.RecordFlush(s.ctx, string(trigger), "started")

	ctx, span := observe.StartSpan(s.ctx, "session.flush",
		attribute.String("session.trigger", string(trigger)),
		attribute.Int("session.segments", len(batch.Segments)),
	)
	defer span.End()
	log := observe.Logger(ctx).With("trigger", trigger)

	out, err := s.analyzer.Analyze(ctx, batch)
	if err != nil {
		s.buf.Restore(batch)
		span.RecordError(err)
		log.Warn("analysis pass failed, batch restored", "segments", len(batch.Segments), "error", err)
	} else {
		log.Debug("analysis pass done", "segments", len(batch.Segments), "action", out.Action)
	}

	if s.onPass != nil {
		s.onPass(ctx, s.id, trigger, out, err)
	}
	return out, err
}

// onPause runs when the debounce timer fires.
func (s *Session) onPause() {
	if !s.enter() {
		return
	}
	defer s.passes.Done()
	s.flushQuiet(TriggerPause)
}

// loop runs the interval fallback until the session stops.
func (s *Session) loop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.buf.Len() == 0 || s.inFlight.Load() {
				continue
			}
			if !s.enter() {
				return
			}
			s.flushQuiet(TriggerInterval)
			s.passes.Done()
		}
	}
}

// flushQuiet runs a timer-triggered flush. Contention and empty buffers are
// expected, and pass failures are already logged by flush.
func (s *Session) flushQuiet(trigger Trigger) {
	_, _ = s.flush(trigger)
}
