// Package observe carries featureboard's telemetry: OpenTelemetry metrics
// exported to Prometheus, session-scoped tracing, trace-correlated slog
// loggers and the HTTP middleware joining them.
//
// Components take a *[Metrics]; [DefaultMetrics] serves code paths, such as
// the replay command, that run without a configured provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all featureboard metrics.
const meterName = "github.com/MrWong99/featureboard"

// Metrics holds the application's instruments. Record through the helper
// methods where one exists so attribute names stay consistent.
type Metrics struct {
	// PassDuration and Passes are labelled by action: discarded, created,
	// merged, capability_added or failed.
	PassDuration metric.Float64Histogram
	Passes       metric.Int64Counter

	// OracleDuration is labelled by call (classify, route, ...) and status.
	OracleDuration  metric.Float64Histogram
	OracleFallbacks metric.Int64Counter

	// LLMDuration and ProviderRequests are labelled by backend label.
	LLMDuration      metric.Float64Histogram
	ProviderRequests metric.Int64Counter

	// Flushes is labelled by trigger and result: started, in_flight or empty.
	Flushes metric.Int64Counter

	FeaturesCreated     metric.Int64Counter
	CapabilitiesCreated metric.Int64Counter

	// ActiveSubscribers counts connected WebSocket board streams.
	ActiveSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled by method, route pattern and status
	// class ("2xx", "5xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) suit LLM-bound work, which routinely takes
// several seconds.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		PassDuration:   b.seconds("featureboard.pass.duration", "Latency of one transcript analysis pass.", latencyBuckets),
		OracleDuration: b.seconds("featureboard.oracle.duration", "Latency of a single oracle call.", latencyBuckets),
		LLMDuration:    b.seconds("featureboard.llm.duration", "Latency of LLM inference.", latencyBuckets),

		Passes:              b.counter("featureboard.passes", "Total analysis passes by resulting action."),
		Flushes:             b.counter("featureboard.flushes", "Total flush requests by trigger and result."),
		OracleFallbacks:     b.counter("featureboard.oracle.fallbacks", "Total oracle calls answered by the local fallback."),
		FeaturesCreated:     b.counter("featureboard.features.created", "Total features created by the pipeline."),
		CapabilitiesCreated: b.counter("featureboard.capabilities.created", "Total capabilities created by the pipeline."),
		ProviderRequests:    b.counter("featureboard.provider.requests", "Total LLM provider requests by provider and status."),

		ActiveSubscribers: b.gauge("featureboard.active_subscribers", "Number of connected snapshot subscribers."),

		HTTPRequestDuration: b.seconds("featureboard.http.request.duration", "API request latency by method, route and status class.", nil),
	}
	if b.err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", b.err)
	}
	return met, nil
}

// instruments creates instruments on one meter, collecting errors.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global
// [otel.GetMeterProvider], created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordPass records a finished pass with its action and duration.
func (m *Metrics) RecordPass(ctx context.Context, action string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	m.Passes.Add(ctx, 1, attrs)
	m.PassDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordOracleCall records one oracle call's latency and outcome.
func (m *Metrics) RecordOracleCall(ctx context.Context, call, status string, d time.Duration) {
	m.OracleDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("call", call),
			attribute.String("status", status),
		),
	)
}

// RecordOracleFallback records an oracle call answered locally.
func (m *Metrics) RecordOracleFallback(ctx context.Context, call string) {
	m.OracleFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("call", call)))
}

// RecordFlush records a flush request and whether it started a pass.
func (m *Metrics) RecordFlush(ctx context.Context, trigger, result string) {
	m.Flushes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("result", result),
		),
	)
}

// RecordGrowth records features and capabilities created by one pass.
func (m *Metrics) RecordGrowth(ctx context.Context, features, capabilities int) {
	if features > 0 {
		m.FeaturesCreated.Add(ctx, int64(features))
	}
	if capabilities > 0 {
		m.CapabilitiesCreated.Add(ctx, int64(capabilities))
	}
}

// RecordProviderRequest records an LLM provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, d time.Duration) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}
