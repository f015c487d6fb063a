package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
}

func TestRecordTaskRun(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records run count and latency", func(t *testing.T) {
		m.RecordTaskRun(ctx, "cleanup", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)

		runs := findMetric(rm, "opswatch.task.runs")
		require.NotNil(t, runs)
		sum, ok := runs.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)

		latency := findMetric(rm, "opswatch.task.latency_ms")
		require.NotNil(t, latency)
		hist, ok := latency.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records error count on failure", func(t *testing.T) {
		m.RecordTaskRun(ctx, "cleanup", 10*time.Millisecond, errors.New("boom"))

		rm := collectMetrics(t, reader)
		taskErrors := findMetric(rm, "opswatch.task.errors")
		require.NotNil(t, taskErrors)

		sum, ok := taskErrors.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)
		assert.GreaterOrEqual(t, sum.DataPoints[0].Value, int64(1))
	})
}

func TestRecordTaskSkip(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordTaskSkip(context.Background(), "inventory-sweep")

	rm := collectMetrics(t, reader)
	skips := findMetric(rm, "opswatch.task.skips")
	require.NotNil(t, skips)

	sum, ok := skips.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestRecordErrorAndThreshold(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordErrorTracked(ctx, "high")
	m.RecordErrorTracked(ctx, "high")
	m.RecordThresholdTrip(ctx, "high")

	rm := collectMetrics(t, reader)

	tracked := findMetric(rm, "opswatch.errors.tracked")
	require.NotNil(t, tracked)
	sum, ok := tracked.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	trips := findMetric(rm, "opswatch.errors.threshold_trips")
	require.NotNil(t, trips)
}

func TestRecordDelivery(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDelivery(ctx, true)
	m.RecordDelivery(ctx, false)

	rm := collectMetrics(t, reader)
	deliveries := findMetric(rm, "opswatch.notify.deliveries")
	require.NotNil(t, deliveries)

	sum, ok := deliveries.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	// One datapoint per success attribute value.
	assert.Len(t, sum.DataPoints, 2)
}

func TestNoopMetrics(t *testing.T) {
	// Must not panic with zero values.
	m := NoopMetrics{}
	ctx := context.Background()
	m.RecordTaskRun(ctx, "", 0, nil)
	m.RecordTaskSkip(ctx, "")
	m.RecordErrorTracked(ctx, "")
	m.RecordThresholdTrip(ctx, "")
	m.RecordDelivery(ctx, false)
	m.RecordCleanup(ctx, 0)
}
