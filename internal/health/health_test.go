package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/featureboard/internal/resilience"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// fetchReport serves path through a mux with h registered and decodes the report.
func fetchReport(t *testing.T, h *Handler, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"), path)
	var rep Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep), path)
	return rec.Code, rep
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string // check name -> error, "" when ok
	}{
		{name: "no checkers", wantCode: http.StatusOK, want: map[string]string{}},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "snapshots", Check: ok}, {Name: "llm", Check: ok}},
			wantCode: http.StatusOK,
			want:     map[string]string{"snapshots": "", "llm": ""},
		},
		{
			name:     "one fails",
			checkers: []Checker{{Name: "snapshots", Check: failing("database is locked")}, {Name: "llm", Check: ok}},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"snapshots": "database is locked", "llm": ""},
		},
		{
			name:     "all fail",
			checkers: []Checker{{Name: "snapshots", Check: failing("timeout")}, {Name: "llm", Check: failing("all circuits open: openai")}},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"snapshots": "timeout", "llm": "all circuits open: openai"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, rep := fetchReport(t, New(tt.checkers...), "/readyz")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCode == http.StatusOK, rep.OK(), "report status %q", rep.Status)
			require.Len(t, rep.Checks, len(tt.want))
			for name, wantErr := range tt.want {
				got := rep.Checks[name]
				assert.Equal(t, wantErr, got.Error, name)
				assert.Equal(t, wantErr == "", got.Status == StatusOK, name)
			}
		})
	}
}

func TestHealthz_IgnoresChecksAndDraining(t *testing.T) {
	h := New(Checker{Name: "snapshots", Check: failing("down")})
	h.SetDraining()

	code, rep := fetchReport(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, rep.OK())
	assert.Nil(t, rep.Checks)
}

func TestReadyz_Draining(t *testing.T) {
	h := New(Checker{Name: "snapshots", Check: ok})
	code, _ := fetchReport(t, h, "/readyz")
	require.Equal(t, http.StatusOK, code, "before drain")

	h.SetDraining()
	code, rep := fetchReport(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "draining", rep.Checks["shutdown"].Error)
	assert.Equal(t, StatusOK, rep.Checks["snapshots"].Status)
}

func TestEvaluate_RequestContext(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := h.Evaluate(ctx)
	assert.False(t, rep.OK())
	assert.Equal(t, context.Canceled.Error(), rep.Checks["slow"].Error)
}

func TestEvaluate_Concurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(Checker{Name: "snapshots", Check: wait}, Checker{Name: "llm", Check: wait})

	done := make(chan Report)
	go func() { done <- h.Evaluate(context.Background()) }()
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			require.FailNow(t, "checks did not run concurrently")
		}
	}
	close(release)
	rep := <-done
	assert.True(t, rep.OK(), "report = %+v", rep)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	c := PingChecker("snapshots", pingFunc(failing("database is locked")))
	assert.Equal(t, "snapshots", c.Name)
	assert.EqualError(t, c.Check(context.Background()), "database is locked")
}

func TestBreakerChecker(t *testing.T) {
	open := resilience.EntryStatus{Name: "openai", State: resilience.StateOpen}
	tests := []struct {
		name    string
		entries []resilience.EntryStatus
		wantErr string
	}{
		{name: "none configured", wantErr: "no providers configured"},
		{name: "primary closed", entries: []resilience.EntryStatus{{Name: "openai", State: resilience.StateClosed}}},
		{name: "fallback probing", entries: []resilience.EntryStatus{open, {Name: "ollama#1", State: resilience.StateHalfOpen}}},
		{
			name:    "every circuit open",
			entries: []resilience.EntryStatus{open, {Name: "ollama#1", State: resilience.StateOpen}},
			wantErr: "all circuits open: openai, ollama#1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BreakerChecker("llm", func() []resilience.EntryStatus { return tt.entries }).Check(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
