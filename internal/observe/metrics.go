// Package observe provides observability primitives for the MindGraph
// agents: OpenTelemetry metrics with a Prometheus exporter bridge so the
// dashboard's /metrics endpoint serves the standard scrape format.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MindGraph metrics.
const meterName = "github.com/MrWong99/mindgraph"

// Metrics holds all OpenTelemetry metric instruments for the pipeline. All
// fields are safe for concurrent use — the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription service latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks proposal generation latency.
	LLMDuration metric.Float64Histogram

	// PublishDuration tracks time spent waiting for broker acknowledgement.
	PublishDuration metric.Float64Histogram

	// --- Counters ---

	// EventsProcessed counts bus events handled. Use with attributes:
	//   attribute.String("agent", ...), attribute.String("topic", ...)
	EventsProcessed metric.Int64Counter

	// EventsDropped counts events skipped as duplicates or malformed. Use
	// with attributes:
	//   attribute.String("agent", ...), attribute.String("reason", ...)
	EventsDropped metric.Int64Counter

	// NodesWritten counts graph nodes persisted.
	NodesWritten metric.Int64Counter

	// SnapshotsStored counts snapshot rows written or replaced.
	SnapshotsStored metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks sessions currently marked active.
	ActiveSessions metric.Int64UpDownCounter

	// FrameBuffers tracks open per-session frame buffers in the aggregator.
	FrameBuffers metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks dashboard request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the pipeline's sub-second service calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("mindgraph.stt.duration",
		metric.WithDescription("Latency of transcription service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mindgraph.llm.duration",
		metric.WithDescription("Latency of LLM proposal generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PublishDuration, err = m.Float64Histogram("mindgraph.publish.duration",
		metric.WithDescription("Time spent waiting for broker acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventsProcessed, err = m.Int64Counter("mindgraph.events.processed",
		metric.WithDescription("Total bus events handled by agent and topic."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("mindgraph.events.dropped",
		metric.WithDescription("Total events skipped as duplicates or malformed, by agent and reason."),
	); err != nil {
		return nil, err
	}
	if met.NodesWritten, err = m.Int64Counter("mindgraph.nodes.written",
		metric.WithDescription("Total graph nodes persisted."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotsStored, err = m.Int64Counter("mindgraph.snapshots.stored",
		metric.WithDescription("Total snapshot rows written or replaced."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mindgraph.active_sessions",
		metric.WithDescription("Number of sessions currently marked active."),
	); err != nil {
		return nil, err
	}
	if met.FrameBuffers, err = m.Int64UpDownCounter("mindgraph.frame_buffers",
		metric.WithDescription("Open per-session frame buffers in the aggregator."),
	); err != nil {
		return nil, err
	}

	// HTTP histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mindgraph.http.request.duration",
		metric.WithDescription("Dashboard request latency by method and path."),
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

// RecordEvent records one handled bus event for an agent.
func (m *Metrics) RecordEvent(ctx context.Context, agent, topic string) {
	m.EventsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("topic", topic),
		),
	)
}

// RecordDrop records one skipped event for an agent.
func (m *Metrics) RecordDrop(ctx context.Context, agent, reason string) {
	m.EventsDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("reason", reason),
		),
	)
}
