// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz
// runs every registered [Checker] concurrently and answers 200 only when all
// pass and the process is not draining. Both reply with a [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/featureboard/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Report status values.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// ErrDraining is reported under the "shutdown" check after
// [Handler.SetDraining].
var ErrDraining = errors.New("draining")

// Checker probes one dependency. Check must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the body of both probe endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == StatusOK }

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] evaluating checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining fails readiness from now on. Liveness is unaffected.
func (h *Handler) SetDraining() { h.draining.Store(true) }

// Evaluate runs every checker concurrently, each under its own
// [checkTimeout] derived from ctx.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers)+1)}
	var mu sync.Mutex

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = StatusFail, err.Error()
			}

			mu.Lock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = StatusFail
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if h.draining.Load() {
		rep.Checks["shutdown"] = CheckResult{Status: StatusFail, Error: ErrDraining.Error()}
		rep.Status = StatusFail
	}
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	writeReport(w, h.Evaluate(r.Context()))
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, rep Report) {
	code := http.StatusOK
	if !rep.OK() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// Pinger is anything with a connectivity probe, such as a snapshot sink.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps p as a [Checker].
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerChecker fails when every LLM backend listed by status has an open
// breaker. Half-open backends count as available.
func BreakerChecker(name string, status func() []resilience.EntryStatus) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		entries := status()
		if len(entries) == 0 {
			return errors.New("no providers configured")
		}
		open := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.State != resilience.StateOpen {
				return nil
			}
			open = append(open, e.Name)
		}
		return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
	}}
}
