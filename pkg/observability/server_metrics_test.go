package observability_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/histree/pkg/observability"
)

func newTestMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}

	return nil
}

// sumValue totals every data point of an int64 sum.
func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	var total int64

	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestServerMetrics_Begin(t *testing.T) {
	t.Parallel()

	mp, reader := newTestMeterProvider()

	sm, err := observability.NewServerMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	ok := sm.Begin(ctx, "/query")
	failed := sm.Begin(ctx, "/range")

	assert.Equal(t, int64(2), sumValue(t, findMetric(collectMetrics(t, reader), "histree.server.inflight")))

	ok(http.StatusOK)
	failed(http.StatusServiceUnavailable)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(0), sumValue(t, findMetric(rm, "histree.server.inflight")))
	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "histree.server.requests")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "histree.server.errors")))

	hist := findMetric(rm, "histree.server.request.duration")
	require.NotNil(t, hist)

	data, isHist := hist.Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	assert.Len(t, data.DataPoints, 2)
}

func TestServerMetrics_ClientErrorsAreNotServerErrors(t *testing.T) {
	t.Parallel()

	mp, reader := newTestMeterProvider()

	sm, err := observability.NewServerMetrics(mp.Meter("test"))
	require.NoError(t, err)

	sm.Begin(context.Background(), "/query")(http.StatusBadRequest)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "histree.server.requests")))
	assert.Nil(t, findMetric(rm, "histree.server.errors"))
}
