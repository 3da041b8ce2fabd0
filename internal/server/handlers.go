package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/featureboard/internal/export"
	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/oracle"
	"github.com/MrWong99/featureboard/internal/pipeline"
	"github.com/MrWong99/featureboard/internal/session"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type eventRequest struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type sessionState struct {
	ID       string `json:"id"`
	Pending  string `json:"pending"`
	Interim  string `json:"interim"`
	InFlight bool   `json:"inFlight"`
}

func stateOf(s *session.Session) sessionState {
	return sessionState{ID: s.ID(), Pending: s.Pending(), Interim: s.Interim(), InFlight: s.InFlight()}
}

// passResponse is the JSON view of a [pipeline.Outcome].
type passResponse struct {
	Action         pipeline.Action       `json:"action"`
	Classification oracle.Classification `json:"classification"`
	Overridden     bool                  `json:"overridden"`
	MatchedID      string                `json:"matchedId,omitempty"`
	Feature        *graph.Feature        `json:"feature,omitempty"`
	Capabilities   []graph.Capability    `json:"capabilities"`
}

func passOf(out pipeline.Outcome) passResponse {
	r := passResponse{
		Action:         out.Action,
		Classification: out.Classification,
		Overridden:     out.Overridden,
		Capabilities:   out.Capabilities,
	}
	if out.Match != nil {
		r.MatchedID = out.Match.MatchedID
	}
	if out.Feature.ID != "" {
		f := out.Feature
		r.Feature = &f
	}
	if r.Capabilities == nil {
		r.Capabilities = []graph.Capability{}
	}
	return r
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleExport renders the board as a report; ?format=md (default) or html.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := export.Render(s.store.Snapshot(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	_, _ = w.Write(body)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.sessions.IDs()
	out := make([]sessionState, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions.Lookup(id); ok {
			out = append(out, stateOf(sess))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := sess.Accept(transcript.Event{Text: req.Text, IsFinal: req.IsFinal}); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateOf(sess))
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	out, err := sess.Flush(r.Context())
	switch {
	case errors.Is(err, session.ErrNothingToFlush):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrPassInFlight), errors.Is(err, session.ErrStopped):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		observe.Logger(r.Context()).Warn("explicit flush failed", "session_id", sess.ID(), "error", err)
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, passOf(out))
	}
}

type stopResponse struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	text, err := s.sessions.Stop(r.Context(), id)
	resp := stopResponse{Transcript: text}
	if err != nil {
		// The transcript is final either way; a failed last pass is reported
		// alongside it.
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type featurePatch struct {
	Name *string  `json:"name"`
	DX   *float64 `json:"dx"`
	DY   *float64 `json:"dy"`
}

func (s *Server) handlePatchFeature(w http.ResponseWriter, r *http.Request) {
	var p featurePatch
	if !decodeBody(w, r, &p) {
		return
	}
	id := r.PathValue("id")
	if p.Name == nil && p.DX == nil && p.DY == nil {
		writeError(w, http.StatusBadRequest, errors.New("nothing to update"))
		return
	}
	var (
		f   graph.Feature
		err error
	)
	if p.Name != nil {
		if f, err = s.store.RenameFeature(id, *p.Name); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if p.DX != nil || p.DY != nil {
		var dx, dy float64
		if p.DX != nil {
			dx = *p.DX
		}
		if p.DY != nil {
			dy = *p.DY
		}
		if f, err = s.store.MoveFeature(id, dx, dy); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFeature(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capabilityPatch struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	Position    *graph.Point `json:"position"`
}

func (s *Server) handlePatchCapability(w http.ResponseWriter, r *http.Request) {
	var p capabilityPatch
	if !decodeBody(w, r, &p) {
		return
	}
	c, err := s.store.UpdateCapability(r.PathValue("id"), graph.CapabilityPatch{
		Title:       p.Title,
		Description: p.Description,
		Position:    p.Position,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCapability(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCapability(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrFeatureNotFound), errors.Is(err, graph.ErrCapabilityNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, graph.ErrEmptyName):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
