package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/session"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// wsWriteTimeout bounds a single outbound WebSocket message.
const wsWriteTimeout = 5 * time.Second

// Inbound message types.
const (
	msgEvent = "event"
	msgFlush = "flush"
)

// Outbound message types.
const (
	msgSnapshot = "snapshot"
	msgSession  = "session"
	msgError    = "error"
)

type wsInbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
}

type wsOutbound struct {
	Type    string          `json:"type"`
	Graph   *graph.Snapshot `json:"graph,omitempty"`
	Session *sessionState   `json:"session,omitempty"`
	Pass    *passResponse   `json:"pass,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection, feeds inbound events into the
// session and pushes a graph snapshot after every store change. The first
// message sent is the current snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", sess.ID(), "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.metrics.ActiveSubscribers.Add(ctx, 1)
	defer s.metrics.ActiveSubscribers.Add(context.WithoutCancel(ctx), -1)

	snapshots, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	replies := make(chan wsOutbound, 8)
	go s.readLoop(ctx, cancel, conn, sess, replies)

	for {
		var msg wsOutbound
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			st := stateOf(sess)
			msg = wsOutbound{Type: msgSnapshot, Graph: &snap, Session: &st}
		case msg = <-replies:
		}

		wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, conn, msg)
		wcancel()
		if err != nil {
			slog.Debug("websocket write failed", "session_id", sess.ID(), "error", err)
			return
		}
	}
}

// readLoop handles inbound messages until the peer goes away. Replies are
// queued for the writer; a full queue drops the reply rather than stalling
// the reader.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session, replies chan<- wsOutbound) {
	defer cancel()

	reply := func(m wsOutbound) {
		select {
		case replies <- m:
		default:
		}
	}

	for {
		var in wsInbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("websocket read failed", "session_id", sess.ID(), "error", err)
			}
			return
		}

		switch in.Type {
		case msgEvent:
			if err := sess.Accept(transcript.Event{Text: in.Text, IsFinal: in.IsFinal}); err != nil {
				reply(wsOutbound{Type: msgError, Error: err.Error()})
				continue
			}
			st := stateOf(sess)
			reply(wsOutbound{Type: msgSession, Session: &st})
		case msgFlush:
			out, err := sess.Flush(ctx)
			if err != nil {
				if !errors.Is(err, session.ErrNothingToFlush) {
					reply(wsOutbound{Type: msgError, Error: err.Error()})
				}
				continue
			}
			p := passOf(out)
			st := stateOf(sess)
			reply(wsOutbound{Type: msgSession, Session: &st, Pass: &p})
		default:
			reply(wsOutbound{Type: msgError, Error: "unknown message type " + in.Type})
		}
	}
}
