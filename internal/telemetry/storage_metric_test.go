package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewStorageMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewStorageMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.PageHitsCounter.Add(ctx, 2)
	m.EvictionsCounter.Add(ctx, 1)
	m.QueueDepthUpDownCounter.Add(ctx, 1)
	m.QueueDepthUpDownCounter.Add(ctx, -1)
	m.DiskLatencyHistogram.Record(ctx, 120)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	hits, ok := byName["pagestore.bufferpool.hits_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(2), hits.DataPoints[0].Value)

	depth, ok := byName["pagestore.disk.queue_depth"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.False(t, depth.IsMonotonic)
	require.Equal(t, int64(0), depth.DataPoints[0].Value)

	latency, ok := byName["pagestore.disk.request.duration"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Equal(t, uint64(1), latency.DataPoints[0].Count)
}

func TestNoopStorageMetrics(t *testing.T) {
	m := NoopStorageMetrics()
	require.NotNil(t, m)
	m.PageMissesCounter.Add(context.Background(), 1)
}
