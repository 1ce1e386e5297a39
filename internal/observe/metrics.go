// Package observe provides application-wide observability primitives for
// voxlink: OpenTelemetry metrics, tracing, session-scoped logging, and HTTP
// middleware for the status endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [InitProvider]. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlink metrics.
const meterName = "github.com/MrWong99/voxlink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture path ---

	// CaptureBlocks counts capture callbacks by outcome:
	//   attribute.String("outcome", "sent"|"gated"|"dropped")
	CaptureBlocks metric.Int64Counter

	// ResampleDuration tracks the time spent downsampling one capture block.
	ResampleDuration metric.Float64Histogram

	// --- Transport ---

	// TransportMessages counts messages by direction and frame kind:
	//   attribute.String("direction", "in"|"out"), attribute.String("kind", ...)
	TransportMessages metric.Int64Counter

	// DecodeErrors counts inbound messages dropped by the codec:
	//   attribute.String("kind", "bad_json"|"malformed_audio"|"unsupported")
	DecodeErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackChunks counts chunks leaving the playback queue:
	//   attribute.String("outcome", "played"|"skipped")
	PlaybackChunks metric.Int64Counter

	// PlaybackQueueDepth tracks chunks waiting to be rendered.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- Session ---

	// SessionTransitions counts state machine transitions:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// ActiveSessions tracks sessions between open and close.
	ActiveSessions metric.Int64UpDownCounter

	// --- Speech ---

	// SpeechUtterances counts on-device utterances by outcome:
	//   attribute.String("outcome", "spoken"|"failed"|"rejected")
	SpeechUtterances metric.Int64Counter

	// SpeechDuration tracks synthesis latency (request to first audio).
	SpeechDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// resampleBuckets covers sub-millisecond to one capture period (in seconds).
var resampleBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network-bound operations.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureBlocks, err = m.Int64Counter("voxlink.capture.blocks",
		metric.WithDescription("Capture blocks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ResampleDuration, err = m.Float64Histogram("voxlink.capture.resample.duration",
		metric.WithDescription("Time to downsample one capture block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resampleBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TransportMessages, err = m.Int64Counter("voxlink.transport.messages",
		metric.WithDescription("Transport messages by direction and kind."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxlink.codec.decode_errors",
		metric.WithDescription("Inbound messages dropped by the codec, by kind."),
	); err != nil {
		return nil, err
	}

	if met.PlaybackChunks, err = m.Int64Counter("voxlink.playback.chunks",
		metric.WithDescription("Playback chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("voxlink.playback.queue_depth",
		metric.WithDescription("Playback chunks waiting to be rendered."),
	); err != nil {
		return nil, err
	}

	if met.SessionTransitions, err = m.Int64Counter("voxlink.session.transitions",
		metric.WithDescription("Session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlink.active_sessions",
		metric.WithDescription("Number of sessions between open and close."),
	); err != nil {
		return nil, err
	}

	if met.SpeechUtterances, err = m.Int64Counter("voxlink.speech.utterances",
		metric.WithDescription("On-device speech utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("voxlink.speech.duration",
		metric.WithDescription("Latency of on-device speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlink.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the exporting provider.
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

// RecordCaptureBlock counts one capture callback.
func (m *Metrics) RecordCaptureBlock(ctx context.Context, outcome string) {
	m.CaptureBlocks.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordMessage counts one transport message.
func (m *Metrics) RecordMessage(ctx context.Context, direction, kind string) {
	m.TransportMessages.Add(ctx, 1,
		metric.WithAttributes(
			Attr("direction", direction),
			Attr("kind", kind),
		),
	)
}

// RecordDecodeError counts one dropped inbound message.
func (m *Metrics) RecordDecodeError(ctx context.Context, kind string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordPlaybackChunk counts one chunk leaving the playback queue.
func (m *Metrics) RecordPlaybackChunk(ctx context.Context, outcome string) {
	m.PlaybackChunks.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTransition counts one session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			Attr("from", from),
			Attr("to", to),
		),
	)
}

// RecordUtterance counts one on-device speech request.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.SpeechUtterances.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}
