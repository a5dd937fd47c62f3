// Package observe provides OpenTelemetry metrics for dialcast, with a
// Prometheus exporter bridge so /metrics keeps working for scrapers.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all dialcast metrics.
const meterName = "github.com/dialcast/dialcast"

// Metrics holds every metric instrument the server records. All fields are
// safe for concurrent use.
type Metrics struct {
	// Latency histograms per pipeline stage, in seconds.

	// STTLatency is speech-end to final-transcript latency.
	STTLatency metric.Float64Histogram

	// LLMLatency is per-turn completion latency.
	LLMLatency metric.Float64Histogram

	// TTSLatency is text-submitted to first-audio-chunk latency.
	TTSLatency metric.Float64Histogram

	// TurnLatency is speech-end to first-audio-out, the end-to-end number
	// the 700 ms target applies to.
	TurnLatency metric.Float64Histogram

	// BargeInLatency is start-of-turn to playback-stopped.
	BargeInLatency metric.Float64Histogram

	// Counters.

	// CallsPlaced counts dial attempts by tenant and outcome.
	CallsPlaced metric.Int64Counter

	// ProviderErrors counts provider failures by provider and stage.
	ProviderErrors metric.Int64Counter

	// DroppedFrames counts audio frames discarded by bounded queues,
	// by direction.
	DroppedFrames metric.Int64Counter

	// QueueOps counts dialer queue operations by op (enqueue, dequeue,
	// retry, defer, complete).
	QueueOps metric.Int64Counter

	// Gauges.

	// ActiveCalls tracks live voice pipelines.
	ActiveCalls metric.Int64UpDownCounter

	// QueueDepth tracks jobs sitting in the dialer queue.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handler latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) tuned for conversational
// latencies: tight resolution under one second, coarse above.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.7, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTLatency, err = hist("dialcast.stt.latency",
		"Speech-end to final-transcript latency."); err != nil {
		return nil, err
	}
	if met.LLMLatency, err = hist("dialcast.llm.latency",
		"Per-turn LLM completion latency."); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = hist("dialcast.tts.latency",
		"Text-submitted to first-audio-chunk latency."); err != nil {
		return nil, err
	}
	if met.TurnLatency, err = hist("dialcast.turn.latency",
		"Speech-end to first-audio-out latency per turn."); err != nil {
		return nil, err
	}
	if met.BargeInLatency, err = hist("dialcast.bargein.latency",
		"Start-of-turn to playback-stopped latency."); err != nil {
		return nil, err
	}

	if met.CallsPlaced, err = m.Int64Counter("dialcast.calls.placed",
		metric.WithDescription("Dial attempts by tenant and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dialcast.provider.errors",
		metric.WithDescription("Provider failures by provider and stage."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("dialcast.audio.dropped_frames",
		metric.WithDescription("Audio frames discarded by bounded queues, by direction."),
	); err != nil {
		return nil, err
	}
	if met.QueueOps, err = m.Int64Counter("dialcast.dialer.queue_ops",
		metric.WithDescription("Dialer queue operations by op."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("dialcast.calls.active",
		metric.WithDescription("Live voice pipelines."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("dialcast.dialer.queue_depth",
		metric.WithDescription("Jobs in the dialer queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("dialcast.http.request.duration",
		metric.WithDescription("HTTP handler latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from the global meter provider. Panics if instrument creation fails, which
// cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCallPlaced increments the dial-attempt counter.
func (m *Metrics) RecordCallPlaced(ctx context.Context, tenantID, outcome string) {
	m.CallsPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("outcome", outcome),
	))
}

// RecordProviderError increments the provider failure counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, stage string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("stage", stage),
	))
}

// RecordDroppedFrames adds n to the dropped-frame counter for a direction
// ("inbound" or "outbound").
func (m *Metrics) RecordDroppedFrames(ctx context.Context, direction string, n int64) {
	if n <= 0 {
		return
	}
	m.DroppedFrames.Add(ctx, n, metric.WithAttributes(
		attribute.String("direction", direction),
	))
}

// RecordQueueOp increments the queue-operation counter.
func (m *Metrics) RecordQueueOp(ctx context.Context, op string) {
	m.QueueOps.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordTurn records one turn's stage latencies in a single call.
func (m *Metrics) RecordTurn(ctx context.Context, llm, tts, total time.Duration) {
	if llm > 0 {
		m.LLMLatency.Record(ctx, llm.Seconds())
	}
	if tts > 0 {
		m.TTSLatency.Record(ctx, tts.Seconds())
	}
	if total > 0 {
		m.TurnLatency.Record(ctx, total.Seconds())
	}
}
