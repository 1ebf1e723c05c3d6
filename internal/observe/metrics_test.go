package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
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

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"mindgraph.stt.duration", m.STTDuration},
		{"mindgraph.llm.duration", m.LLMDuration},
		{"mindgraph.publish.duration", m.PublishDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvent(ctx, "graph-writer", "tree/approved")
	m.RecordEvent(ctx, "graph-writer", "tree/approved")
	m.RecordEvent(ctx, "stt", "audio/segment_created")

	rm := collect(t, reader)
	met := findMetric(rm, "mindgraph.events.processed")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 attribute sets", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		agent, _ := dp.Attributes.Value(attribute.Key("agent"))
		switch agent.AsString() {
		case "graph-writer":
			if dp.Value != 2 {
				t.Errorf("graph-writer count = %d, want 2", dp.Value)
			}
		case "stt":
			if dp.Value != 1 {
				t.Errorf("stt count = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected agent attribute %q", agent.AsString())
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.FrameBuffers.Add(ctx, 3)

	rm := collect(t, reader)

	sessions := findMetric(rm, "mindgraph.active_sessions")
	if sessions == nil {
		t.Fatal("active_sessions metric not found")
	}
	sum, ok := sessions.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("active_sessions has no data")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("active_sessions = %d, want 1", sum.DataPoints[0].Value)
	}

	buffers := findMetric(rm, "mindgraph.frame_buffers")
	if buffers == nil {
		t.Fatal("frame_buffers metric not found")
	}
	bsum, ok := buffers.Data.(metricdata.Sum[int64])
	if !ok || len(bsum.DataPoints) == 0 {
		t.Fatal("frame_buffers has no data")
	}
	if bsum.DataPoints[0].Value != 3 {
		t.Errorf("frame_buffers = %d, want 3", bsum.DataPoints[0].Value)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics() returned different instances")
	}
}
