package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestTurnLatencyHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TurnLatency.Record(ctx, 0.42)
	m.TurnLatency.Record(ctx, 1.1)

	rm := collect(t, reader)
	found := findMetric(rm, "voxhall.turn.latency")
	if found == nil {
		t.Fatal("voxhall.turn.latency not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("histogram count = %d; want 2", got)
	}
}

func TestToolCallCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "transfer_to_staff", "ok")
	m.RecordToolCall(ctx, "transfer_to_staff", "ok")
	m.RecordToolCall(ctx, "end_call", "ok")

	rm := collect(t, reader)
	found := findMetric(rm, "voxhall.tool.calls")
	if found == nil {
		t.Fatal("voxhall.tool.calls not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d data points; want 2 (one per tool)", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total tool calls = %d; want 3", total)
	}
}

func TestTransitionCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "listening", "processing")

	rm := collect(t, reader)
	found := findMetric(rm, "voxhall.session.transitions")
	if found == nil {
		t.Fatal("voxhall.session.transitions not found")
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	found := findMetric(rm, "voxhall.active_sessions")
	if found == nil {
		t.Fatal("voxhall.active_sessions not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d; want 1", got)
	}
}

func TestAudioScheduledAccumulates(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AudioScheduled.Add(ctx, 0.5)
	m.AudioScheduled.Add(ctx, 0.5, metric.WithAttributes())

	rm := collect(t, reader)
	found := findMetric(rm, "voxhall.playback.scheduled")
	if found == nil {
		t.Fatal("voxhall.playback.scheduled not found")
	}
	sum, ok := found.Data.(metricdata.Sum[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1.0 {
		t.Errorf("scheduled seconds = %v; want 1.0", got)
	}
}
