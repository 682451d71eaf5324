package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsObserver 将结果事件记录为 OpenTelemetry 指标。
type MetricsObserver struct {
	requests   metric.Int64Counter
	rejections metric.Int64Counter
	coalesced  metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetricsObserver 在 meter 上注册 cloudcache.* 指标。
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	requests, err := meter.Int64Counter("cloudcache.requests",
		metric.WithDescription("GetCachedFile calls by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	rejections, err := meter.Int64Counter("cloudcache.queue_rejections",
		metric.WithDescription("Asynchronous requests written inline because the write queue was full"))
	if err != nil {
		return nil, fmt.Errorf("create rejections counter: %w", err)
	}
	coalesced, err := meter.Int64Counter("cloudcache.coalesced",
		metric.WithDescription("Requests served from an in-flight write job"))
	if err != nil {
		return nil, fmt.Errorf("create coalesced counter: %w", err)
	}
	duration, err := meter.Float64Histogram("cloudcache.request.duration",
		metric.WithDescription("GetCachedFile latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return &MetricsObserver{
		requests:   requests,
		rejections: rejections,
		coalesced:  coalesced,
		duration:   duration,
	}, nil
}

// Observe 实现 Observer。
func (m *MetricsObserver) Observe(e Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("outcome", e.Outcome.String()),
		attribute.Bool("async", e.Async),
		attribute.Bool("error", e.Err != nil),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, e.Duration.Seconds(), attrs)
	if e.QueueRejected {
		m.rejections.Add(ctx, 1)
	}
	if e.Coalesced {
		m.coalesced.Add(ctx, 1)
	}
}
