package observe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordChunk(ctx, -12)
	m.RecordChunk(ctx, -3)
	m.RecordError(ctx, "capture")
	m.RecordAlert(ctx)
	m.RecordCommand(ctx, "listen", "ok")
	m.RecordCommand(ctx, "plot", "error")
	m.RecordDeliveryFailure(ctx, "telegram")
	m.RecordNotification(ctx, "webhook", nil)
	m.RecordNotification(ctx, "email", errors.New("smtp down"))
	m.RecordThreshold(ctx, 40000)
	m.RecordCapture(ctx, 3.01)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["soundwatch.chunks.ingested"]))
	assert.Equal(t, int64(1), sumOf(t, got["soundwatch.errors"]))
	assert.Equal(t, int64(1), sumOf(t, got["soundwatch.alerts"]))
	assert.Equal(t, int64(2), sumOf(t, got["soundwatch.commands"]))
	assert.Equal(t, int64(1), sumOf(t, got["soundwatch.delivery.failures"]))
	assert.Equal(t, int64(2), sumOf(t, got["soundwatch.notifications"]))

	peak, ok := got["soundwatch.level.peak"].(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, peak.DataPoints, 1)
	assert.Equal(t, -3.0, peak.DataPoints[0].Value)
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordChunk(ctx, 0)
		m.RecordError(ctx, "x")
		m.RecordAlert(ctx)
		m.RecordCommand(ctx, "ping", "ok")
		m.RecordDeliveryFailure(ctx, "discord")
		m.RecordNotification(ctx, "log", nil)
		m.RecordThreshold(ctx, 1)
		m.RecordCapture(ctx, 1)
	})
}
