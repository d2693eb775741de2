package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// StorageMetrics holds all the metric instruments for the buffer pool and
// the disk scheduler.
type StorageMetrics struct {
	PageHitsCounter         metric.Int64Counter
	PageMissesCounter       metric.Int64Counter
	EvictionsCounter        metric.Int64Counter
	WriteBacksCounter       metric.Int64Counter
	PoolExhaustedCounter    metric.Int64Counter
	DiskRequestsCounter     metric.Int64Counter
	DiskFailuresCounter     metric.Int64Counter
	DiskLatencyHistogram    metric.Int64Histogram
	QueueDepthUpDownCounter metric.Int64UpDownCounter
}

// NewStorageMetrics creates and registers all the metrics for the storage core.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	pageHitsCounter, err := meter.Int64Counter(
		"pagestore.bufferpool.hits_total",
		metric.WithDescription("Total number of page fetches served from the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pageMissesCounter, err := meter.Int64Counter(
		"pagestore.bufferpool.misses_total",
		metric.WithDescription("Total number of page fetches that required a disk read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"pagestore.bufferpool.evictions_total",
		metric.WithDescription("Total number of resident pages evicted."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeBacksCounter, err := meter.Int64Counter(
		"pagestore.bufferpool.writebacks_total",
		metric.WithDescription("Total number of dirty victims written back before reuse."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	poolExhaustedCounter, err := meter.Int64Counter(
		"pagestore.bufferpool.exhausted_total",
		metric.WithDescription("Total number of fetches rejected because every frame was pinned."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskRequestsCounter, err := meter.Int64Counter(
		"pagestore.disk.requests_total",
		metric.WithDescription("Total number of disk requests executed by the scheduler."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskFailuresCounter, err := meter.Int64Counter(
		"pagestore.disk.failures_total",
		metric.WithDescription("Total number of disk requests that completed with an error."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskLatencyHistogram, err := meter.Int64Histogram(
		"pagestore.disk.request.duration",
		metric.WithDescription("Time from enqueue to completion of a disk request."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	queueDepthUpDownCounter, err := meter.Int64UpDownCounter(
		"pagestore.disk.queue_depth",
		metric.WithDescription("Number of disk requests waiting for a worker."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		PageHitsCounter:         pageHitsCounter,
		PageMissesCounter:       pageMissesCounter,
		EvictionsCounter:        evictionsCounter,
		WriteBacksCounter:       writeBacksCounter,
		PoolExhaustedCounter:    poolExhaustedCounter,
		DiskRequestsCounter:     diskRequestsCounter,
		DiskFailuresCounter:     diskFailuresCounter,
		DiskLatencyHistogram:    diskLatencyHistogram,
		QueueDepthUpDownCounter: queueDepthUpDownCounter,
	}, nil
}

// NoopStorageMetrics returns instruments that record nothing.
func NoopStorageMetrics() *StorageMetrics {
	m, _ := NewStorageMetrics(noop.NewMeterProvider().Meter(""))
	return m
}
