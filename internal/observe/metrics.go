// Package observe provides observability primitives for the dictation
// pipeline: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/prepstage/dictation"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// Segments counts transcription segments processed. Use with
	// [WithBackend] attributes.
	Segments metric.Int64Counter

	// Reconnects counts remote reconnect attempts scheduled.
	Reconnects metric.Int64Counter

	// EngineRestarts counts in-place restarts of the local engine.
	EngineRestarts metric.Int64Counter

	// HeartbeatTimeouts counts idle-watchdog trips that forced a
	// reconnect.
	HeartbeatTimeouts metric.Int64Counter

	// ActiveSessions tracks the number of live listening intervals.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time to establish the streaming socket,
	// in seconds.
	ConnectDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for
// socket establishment latency.
var connectBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.Segments, err = meter.Int64Counter(
		"dictation_segments_total",
		metric.WithDescription("Transcription segments processed"),
	); err != nil {
		return nil, err
	}
	if m.Reconnects, err = meter.Int64Counter(
		"dictation_reconnects_total",
		metric.WithDescription("Remote reconnect attempts scheduled"),
	); err != nil {
		return nil, err
	}
	if m.EngineRestarts, err = meter.Int64Counter(
		"dictation_engine_restarts_total",
		metric.WithDescription("In-place restarts of the local recognition engine"),
	); err != nil {
		return nil, err
	}
	if m.HeartbeatTimeouts, err = meter.Int64Counter(
		"dictation_heartbeat_timeouts_total",
		metric.WithDescription("Idle-watchdog trips that forced a reconnect"),
	); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter(
		"dictation_active_sessions",
		metric.WithDescription("Live listening intervals"),
	); err != nil {
		return nil, err
	}
	if m.ConnectDuration, err = meter.Float64Histogram(
		"dictation_connect_duration_seconds",
		metric.WithDescription("Streaming socket establishment latency"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// WithBackend returns the standard attribute set for segment counters.
func WithBackend(backend string, isFinal bool) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("final", isFinal),
	)
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared [Metrics] instance built on the global
// OTel meter provider. Instruments are created lazily on first use, after
// [InitProvider] has typically installed the real provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The no-op provider never fails instrument creation; fall
			// back to it rather than crash on telemetry setup.
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
