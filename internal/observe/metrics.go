// Package observe provides OpenTelemetry metrics for the monitor, exported
// to Prometheus through the /metrics endpoint.
//
// Tests should build a [Metrics] with [NewMetrics] and their own
// [metric.MeterProvider]. All Record methods are safe to call on a nil *Metrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oszuidwest/zwfm-soundwatch"

// Metrics holds all metric instruments.
type Metrics struct {
	// ChunksIngested counts chunks accepted by the analyzer.
	ChunksIngested metric.Int64Counter

	// CaptureDuration tracks how long each recording call took.
	CaptureDuration metric.Float64Histogram

	// Errors counts reported errors. Use with attribute.String("kind", ...).
	Errors metric.Int64Counter

	// Alerts counts dispatched threshold alerts.
	Alerts metric.Int64Counter

	// Commands counts control commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// DeliveryFailures counts chat sends that failed after the retry.
	DeliveryFailures metric.Int64Counter

	// Notifications counts secondary notifier results. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	Notifications metric.Int64Counter

	// PeakLevel is the peak level of the last chunk in dBFS.
	PeakLevel metric.Float64Gauge

	// Threshold is the current trigger threshold.
	Threshold metric.Float64Gauge
}

var captureBuckets = []float64{0.5, 1, 2, 3, 5, 10, 30}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksIngested, err = m.Int64Counter("soundwatch.chunks.ingested",
		metric.WithDescription("Chunks accepted by the analyzer."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("soundwatch.capture.duration",
		metric.WithDescription("Duration of one chunk recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(captureBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("soundwatch.errors",
		metric.WithDescription("Errors reported to the chat, by kind."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("soundwatch.alerts",
		metric.WithDescription("Threshold alerts dispatched."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("soundwatch.commands",
		metric.WithDescription("Control commands by command and status."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryFailures, err = m.Int64Counter("soundwatch.delivery.failures",
		metric.WithDescription("Chat messages that could not be delivered after a retry."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("soundwatch.notifications",
		metric.WithDescription("Secondary notifier results by type and status."),
	); err != nil {
		return nil, err
	}
	if met.PeakLevel, err = m.Float64Gauge("soundwatch.level.peak",
		metric.WithDescription("Peak level of the last chunk."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}
	if met.Threshold, err = m.Float64Gauge("soundwatch.threshold",
		metric.WithDescription("Current trigger threshold."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordChunk records an ingested chunk and its peak level.
func (m *Metrics) RecordChunk(ctx context.Context, peakDB float64) {
	if m == nil {
		return
	}
	m.ChunksIngested.Add(ctx, 1)
	m.PeakLevel.Record(ctx, peakDB)
}

// RecordCapture records the duration of a recording call.
func (m *Metrics) RecordCapture(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.CaptureDuration.Record(ctx, seconds)
}

// RecordError records an error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAlert records a dispatched alert.
func (m *Metrics) RecordAlert(ctx context.Context) {
	if m == nil {
		return
	}
	m.Alerts.Add(ctx, 1)
}

// RecordCommand records a control command.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// RecordDeliveryFailure records a chat send that failed after its retry.
func (m *Metrics) RecordDeliveryFailure(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordNotification records a secondary notifier result.
func (m *Metrics) RecordNotification(ctx context.Context, notifyType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", notifyType),
		attribute.String("status", status),
	))
}

// RecordThreshold records the current threshold.
func (m *Metrics) RecordThreshold(ctx context.Context, v float64) {
	if m == nil {
		return
	}
	m.Threshold.Record(ctx, v)
}
