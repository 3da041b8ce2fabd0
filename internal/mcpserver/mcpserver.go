// Package mcpserver exposes the board to MCP clients such as coding agents.
//
// Agents can read the graph, fetch one feature with its capabilities, read
// a Markdown report of the board, and submit transcript text on behalf of a session. Writes go through the same
// session and pipeline as spoken input.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/featureboard/internal/export"
	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/session"
	"github.com/MrWong99/featureboard/internal/transcript"
)

// Tool names.
const (
	ToolListFeatures     = "list_features"
	ToolGetFeature       = "get_feature"
	ToolSubmitTranscript = "submit_transcript"
	ToolBoardReport      = "board_report"
)

// Server wraps an MCP server bound to one store and session manager.
type Server struct {
	store    *graph.Store
	sessions *session.Manager
	mcp      *mcpsdk.Server
}

// New creates the MCP server and registers its tools.
func New(store *graph.Store, sessions *session.Manager, version string) *Server {
	s := &Server{
		store:    store,
		sessions: sessions,
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "featureboard",
			Version: version,
		}, nil),
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolListFeatures,
		Description: "List every feature on the board with its summary and capability titles.",
	}, s.listFeatures)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolGetFeature,
		Description: "Get one feature by id, including its capabilities, open questions and conversation history.",
	}, s.getFeature)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolSubmitTranscript,
		Description: "Add final transcript text to a session. With flush=true the text is analysed immediately and the pass result is returned.",
	}, s.submitTranscript)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolBoardReport,
		Description: "Render the whole board as a Markdown report: every feature with its capabilities, open questions and discussion notes.",
	}, s.boardReport)

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// RunStdio serves a single client over stdin/stdout until it disconnects or
// ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// ListFeaturesInput has no parameters.
type ListFeaturesInput struct{}

type featureSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) listFeatures(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListFeaturesInput) (*mcpsdk.CallToolResult, any, error) {
	snap := s.store.Snapshot()
	out := make([]featureSummary, 0, len(snap.Features))
	for _, f := range snap.Features {
		titles := make([]string, 0, len(f.CapabilityIDs))
		for _, c := range snap.CapabilitiesOf(f.ID) {
			titles = append(titles, c.Title)
		}
		out = append(out, featureSummary{ID: f.ID, Name: f.Name, Summary: f.Summary, Capabilities: titles})
	}
	return jsonResult(out)
}

// GetFeatureInput selects a feature.
type GetFeatureInput struct {
	ID string `json:"id" jsonschema:"the feature id as returned by list_features"`
}

type featureDetail struct {
	graph.Feature
	Capabilities []graph.Capability `json:"capabilities"`
}

func (s *Server) getFeature(_ context.Context, _ *mcpsdk.CallToolRequest, in GetFeatureInput) (*mcpsdk.CallToolResult, any, error) {
	snap := s.store.Snapshot()
	f, ok := snap.FeatureByID(strings.TrimSpace(in.ID))
	if !ok {
		return nil, nil, fmt.Errorf("feature %q not found", in.ID)
	}
	caps := snap.CapabilitiesOf(f.ID)
	if caps == nil {
		caps = []graph.Capability{}
	}
	return jsonResult(featureDetail{Feature: f, Capabilities: caps})
}

// SubmitTranscriptInput carries text for a session.
type SubmitTranscriptInput struct {
	SessionID string `json:"session_id" jsonschema:"the session to add the text to; created if it does not exist"`
	Text      string `json:"text" jsonschema:"final transcript text"`
	Flush     bool   `json:"flush,omitempty" jsonschema:"analyse the buffered text now instead of waiting for a pause"`
}

type submitResult struct {
	Pending   string `json:"pending"`
	Action    string `json:"action,omitempty"`
	FeatureID string `json:"featureId,omitempty"`
	Feature   string `json:"feature,omitempty"`
}

func (s *Server) submitTranscript(ctx context.Context, _ *mcpsdk.CallToolRequest, in SubmitTranscriptInput) (*mcpsdk.CallToolResult, any, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, nil, errors.New("session_id is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, nil, errors.New("text is required")
	}
	sess, err := s.sessions.Get(in.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Accept(transcript.Event{Text: in.Text, IsFinal: true}); err != nil {
		return nil, nil, err
	}
	if !in.Flush {
		return jsonResult(submitResult{Pending: sess.Pending()})
	}

	out, err := sess.Flush(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("flush: %w", err)
	}
	return jsonResult(submitResult{
		Pending:   sess.Pending(),
		Action:    string(out.Action),
		FeatureID: out.Feature.ID,
		Feature:   out.Feature.Name,
	})
}

// BoardReportInput has no parameters.
type BoardReportInput struct{}

func (s *Server) boardReport(_ context.Context, _ *mcpsdk.CallToolRequest, _ BoardReportInput) (*mcpsdk.CallToolResult, any, error) {
	md := export.Markdown(s.store.Snapshot())
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(md)}},
	}, nil, nil
}

func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}
