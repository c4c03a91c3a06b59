package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	PollFetches      metric.Int64Counter
	PollErrors       metric.Int64Counter
	PollCoalesced    metric.Int64Counter
	PollStale        metric.Int64Counter
	PollDuration     metric.Float64Histogram
	ActiveQueries    metric.Int64UpDownCounter
	MirrorPublishes  metric.Int64Counter
	CrossedOrderbook metric.Int64Counter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// NewNoop returns metrics backed by an in-process meter with no exporter,
// for tests and tools that do not serve /metrics.
func NewNoop() *Metrics {
	m, err := newMetrics(sdkmetric.NewMeterProvider().Meter("noop"))
	if err != nil {
		panic(err)
	}
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequests, "rsk_http_requests_total", "Total number of HTTP requests"},
		{&m.CacheHits, "rsk_cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "rsk_cache_misses_total", "Total number of cache misses"},
		{&m.PollFetches, "rsk_poll_fetches_total", "Upstream fetches dispatched by the live cache"},
		{&m.PollErrors, "rsk_poll_errors_total", "Upstream fetches that failed"},
		{&m.PollCoalesced, "rsk_poll_coalesced_total", "Poll ticks folded into an in-flight fetch"},
		{&m.PollStale, "rsk_poll_stale_total", "Fetch results discarded by the sequence guard"},
		{&m.MirrorPublishes, "rsk_mirror_publishes_total", "Order book snapshots written to the mirror"},
		{&m.CrossedOrderbook, "rsk_orderbook_crossed_total", "Order book snapshots with best bid >= best ask"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"rsk_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.PollDuration, err = meter.Float64Histogram(
		"rsk_poll_duration_seconds",
		metric.WithDescription("Upstream fetch duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"rsk_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveQueries, err = meter.Int64UpDownCounter(
		"rsk_live_queries",
		metric.WithDescription("Number of query keys with at least one subscriber"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Recorders are no-ops on a nil *Metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}

// RecordFetch records one completed upstream fetch for a query kind.
func (m *Metrics) RecordFetch(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("kind", kind))
	m.PollFetches.Add(ctx, 1, labels)
	m.PollDuration.Record(ctx, duration.Seconds(), labels)
	if err != nil {
		m.PollErrors.Add(ctx, 1, labels)
	}
}

func (m *Metrics) RecordCoalesced(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.PollCoalesced.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordStale(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.PollStale.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) QueryStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ActiveQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) QueryStopped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ActiveQueries.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordMirrorPublish(ctx context.Context, crossed bool) {
	if m == nil {
		return
	}
	m.MirrorPublishes.Add(ctx, 1)
	if crossed {
		m.CrossedOrderbook.Add(ctx, 1)
	}
}
