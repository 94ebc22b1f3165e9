// Package observe provides application-wide observability primitives for
// Voxhall: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxhall metrics.
const meterName = "github.com/voxhall/voxhall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnLatency tracks the delay between the caller's end of turn and the
	// first synthesised audio of the agent's reply.
	TurnLatency metric.Float64Histogram

	// FramesCaptured counts microphone frames read from the capture device.
	FramesCaptured metric.Int64Counter

	// AudioScheduled accumulates seconds of synthesised audio handed to the
	// playback scheduler.
	AudioScheduled metric.Float64Counter

	// Interruptions counts barge-in playback flushes.
	Interruptions metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// DecodeErrors counts inbound audio chunks dropped as malformed.
	DecodeErrors metric.Int64Counter

	// StateTransitions counts session lifecycle transitions. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time on the debug
	// endpoint. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational turn latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnLatency, err = m.Float64Histogram("voxhall.turn.latency",
		metric.WithDescription("Delay from caller end-of-turn to first agent audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("voxhall.capture.frames",
		metric.WithDescription("Total microphone frames captured."),
	); err != nil {
		return nil, err
	}
	if met.AudioScheduled, err = m.Float64Counter("voxhall.playback.scheduled",
		metric.WithDescription("Seconds of synthesised audio scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxhall.playback.interruptions",
		metric.WithDescription("Total barge-in playback flushes."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxhall.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxhall.audio.decode_errors",
		metric.WithDescription("Total inbound audio chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxhall.session.transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxhall.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxhall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTransition records a session state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
