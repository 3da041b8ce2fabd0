package observe

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// probePaths are hit constantly by orchestrators and scrapers; their
// completions are logged at debug.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware instruments the API. Per request it:
//
//   - continues an incoming W3C trace or starts one, in a server span
//   - echoes the trace id as X-Correlation-ID
//   - records [Metrics.HTTPRequestDuration] by method, route and status class
//   - tags span and log line with the session id on /v1/sessions/{id} routes
//
// Routes are the matched [http.ServeMux] pattern, so feature and session
// ids never become metric labels.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := Tracer().Start(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routeOf(r)
			span.SetName("HTTP " + route)
			span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(rw.status))
			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", route),
				attribute.String("status", statusClass(rw.status)),
			))

			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Duration("duration", elapsed),
			}
			if id := r.PathValue("id"); id != "" && strings.Contains(route, "/sessions/{id}") {
				span.SetAttributes(AttrSessionID.String(id))
				attrs = append(attrs, slog.String("session_id", id))
			}
			slog.LogAttrs(ctx, logLevel(r.URL.Path, rw.status), "request completed", attrs...)
		})
	}
}

// routeOf returns "METHOD pattern" for routed requests and "METHOD path"
// otherwise.
func routeOf(r *http.Request) string {
	route := r.Pattern
	if route == "" {
		route = r.URL.Path
	}
	if strings.HasPrefix(route, r.Method+" ") {
		return route
	}
	return r.Method + " " + route
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func logLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case probePaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// responseRecorder captures the status written by the handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (rw *responseRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack passes WebSocket upgrades through to the connection.
func (rw *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
