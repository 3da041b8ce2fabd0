package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/featureboard/internal/session"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// Replay feeds a recorded transcript into the session sessionID. Every
// non-empty line is one final segment. A blank line flushes the segments
// read so far, standing in for a pause in speech; if a pause trigger is
// already analysing them the flush is skipped. At end of input the
// session is stopped, which analyses any residual text, and its full
// transcript is returned.
func (a *App) Replay(ctx context.Context, r io.Reader, sessionID string) (string, error) {
	s, err := a.sessions.Get(sessionID)
	if err != nil {
		return "", fmt.Errorf("app: replay: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			_, err := s.Flush(ctx)
			if err != nil && !errors.Is(err, session.ErrNothingToFlush) && !errors.Is(err, session.ErrPassInFlight) {
				return "", fmt.Errorf("app: replay: flush at line %d: %w", line, err)
			}
			continue
		}
		if err := s.Accept(transcript.Event{Text: text, IsFinal: true}); err != nil {
			return "", fmt.Errorf("app: replay: line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("app: replay: read: %w", err)
	}

	return a.sessions.Stop(ctx, sessionID)
}
