// Package observe provides the OpenTelemetry metrics for the detection
// pipeline and a Prometheus bridge so they can be scraped from /metrics.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider]; code
// that does not care about metrics can use [Nop].
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/petems/sound-detection"

// Detection events, used as the "event" attribute.
const (
	EventBlow    = "blow"
	EventWhistle = "whistle"
)

// Metrics holds all instruments. All fields are safe for concurrent use.
type Metrics struct {
	// FramesProcessed counts frames that completed the pipeline.
	FramesProcessed metric.Int64Counter

	// FramesSkipped counts frames rejected as degenerate or that failed
	// during analysis.
	FramesSkipped metric.Int64Counter

	// FramesDropped counts frames discarded because the processing queue
	// was full.
	FramesDropped metric.Int64Counter

	// FrameDuration tracks per-frame processing time.
	FrameDuration metric.Float64Histogram

	// Detections counts false-to-true transitions. Use with attribute:
	//   attribute.String("event", EventBlow|EventWhistle)
	Detections metric.Int64Counter

	// Monitoring is 1 while capture is running.
	Monitoring metric.Int64UpDownCounter
}

// frameBuckets covers a 1024-sample block up to several 16384-sample
// transforms.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("sound_detection.frames.processed",
		metric.WithDescription("Frames that completed detection."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("sound_detection.frames.skipped",
		metric.WithDescription("Frames skipped because they could not be analysed."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("sound_detection.frames.dropped",
		metric.WithDescription("Frames dropped by a full processing queue."),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("sound_detection.frame.duration",
		metric.WithDescription("Time spent classifying one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("sound_detection.detections",
		metric.WithDescription("Rising edges of the blow and whistle flags."),
	); err != nil {
		return nil, err
	}
	if met.Monitoring, err = m.Int64UpDownCounter("sound_detection.monitoring",
		metric.WithDescription("1 while microphone monitoring is running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return met
}

// RecordFrame records one processed frame and how long it took.
func (m *Metrics) RecordFrame(ctx context.Context, d time.Duration) {
	m.FramesProcessed.Add(ctx, 1)
	m.FrameDuration.Record(ctx, d.Seconds())
}

// RecordDetection records a rising edge of event.
func (m *Metrics) RecordDetection(ctx context.Context, event string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
