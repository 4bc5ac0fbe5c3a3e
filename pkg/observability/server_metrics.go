package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricServerRequests = "histree.server.requests"
	metricServerDuration = "histree.server.request.duration"
	metricServerErrors   = "histree.server.errors"
	metricServerInflight = "histree.server.inflight"

	attrRoute      = "route"
	attrStatusCode = "status_code"
)

// serverBuckets spans cached point lookups (100us) to full range scans (10s).
var serverBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// ServerMetrics counts query server requests by route: rate, server
// errors, latency and requests in flight.
type ServerMetrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	inflight metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

// NewServerMetrics registers the server instruments on mt.
func NewServerMetrics(mt metric.Meter) (*ServerMetrics, error) {
	var (
		sm  ServerMetrics
		err error
	)

	sm.requests, err = mt.Int64Counter(metricServerRequests,
		metric.WithDescription("Requests served"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricServerRequests, err)
	}

	sm.errors, err = mt.Int64Counter(metricServerErrors,
		metric.WithDescription("Requests answered with a 5xx status"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricServerErrors, err)
	}

	sm.inflight, err = mt.Int64UpDownCounter(metricServerInflight,
		metric.WithDescription("Requests being served"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricServerInflight, err)
	}

	sm.duration, err = mt.Float64Histogram(metricServerDuration,
		metric.WithDescription("Request latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(serverBuckets...))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricServerDuration, err)
	}

	return &sm, nil
}

// Begin marks a request on route as in flight. The returned function ends
// it with the response status code.
func (sm *ServerMetrics) Begin(ctx context.Context, route string) func(statusCode int) {
	started := time.Now()
	routeAttr := attribute.String(attrRoute, route)

	sm.inflight.Add(ctx, 1, metric.WithAttributes(routeAttr))

	return func(statusCode int) {
		sm.inflight.Add(ctx, -1, metric.WithAttributes(routeAttr))

		attrs := metric.WithAttributes(routeAttr, attribute.String(attrStatusCode, strconv.Itoa(statusCode)))
		sm.requests.Add(ctx, 1, attrs)
		sm.duration.Record(ctx, time.Since(started).Seconds(), attrs)

		if statusCode >= http.StatusInternalServerError {
			sm.errors.Add(ctx, 1, metric.WithAttributes(routeAttr))
		}
	}
}
