package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricInsertsTotal  = "histree.store.inserts.total"
	metricQueriesTotal  = "histree.store.queries.total"
	metricQueryDuration = "histree.store.query.duration.seconds"
	metricSplitsTotal   = "histree.store.splits.total"
	metricNodesCreated  = "histree.store.nodes.created.total"
	metricCacheHits     = "histree.cache.hits"
	metricCacheMisses   = "histree.cache.misses"
	metricNodeReads     = "histree.cache.node.reads"
	metricNodeWrites    = "histree.cache.node.writes"

	attrCache   = "cache"
	attrQuery   = "query"
	attrNewRoot = "new_root"
)

// Query kinds recorded by StoreMetrics.RecordQuery.
const (
	QueryPoint = "point"
	QueryRange = "range"
	QueryAll   = "all"
)

// StoreMetrics holds the OTel instruments of one history tree store.
type StoreMetrics struct {
	inserts       metric.Int64Counter
	queries       metric.Int64Counter
	queryDuration metric.Float64Histogram
	splits        metric.Int64Counter
	nodesCreated  metric.Int64Counter
}

// NewStoreMetrics creates store metric instruments from the given meter.
func NewStoreMetrics(mt metric.Meter) (*StoreMetrics, error) {
	inserts, err := mt.Int64Counter(metricInsertsTotal,
		metric.WithDescription("Intervals inserted"),
		metric.WithUnit("{interval}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInsertsTotal, err)
	}

	queries, err := mt.Int64Counter(metricQueriesTotal,
		metric.WithDescription("Queries served by kind"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricQueriesTotal, err)
	}

	queryDur, err := mt.Float64Histogram(metricQueryDuration,
		metric.WithDescription("Query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricQueryDuration, err)
	}

	splits, err := mt.Int64Counter(metricSplitsTotal,
		metric.WithDescription("Leaf splits, labelled by whether a new root was created"),
		metric.WithUnit("{split}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSplitsTotal, err)
	}

	nodes, err := mt.Int64Counter(metricNodesCreated,
		metric.WithDescription("Nodes created by splits"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricNodesCreated, err)
	}

	return &StoreMetrics{
		inserts:       inserts,
		queries:       queries,
		queryDuration: queryDur,
		splits:        splits,
		nodesCreated:  nodes,
	}, nil
}

// RecordInsert counts one accepted interval. Safe to call on a nil receiver.
func (sm *StoreMetrics) RecordInsert(ctx context.Context) {
	if sm == nil {
		return
	}

	sm.inserts.Add(ctx, 1)
}

// RecordQuery records one query of the given kind. Safe to call on a nil receiver.
func (sm *StoreMetrics) RecordQuery(ctx context.Context, kind string, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrQuery, kind))
	sm.queries.Add(ctx, 1, attrs)
	sm.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSplit records a leaf split that created newNodes nodes besides a
// possible new root. Safe to call on a nil receiver.
func (sm *StoreMetrics) RecordSplit(ctx context.Context, newNodes int, newRoot bool) {
	if sm == nil {
		return
	}

	sm.splits.Add(ctx, 1, metric.WithAttributes(attribute.Bool(attrNewRoot, newRoot)))

	created := int64(newNodes)
	if newRoot {
		created++
	}

	sm.nodesCreated.Add(ctx, created)
}

// CacheStatsProvider exposes cumulative cache hit/miss counts.
type CacheStatsProvider interface {
	CacheHits() int64
	CacheMisses() int64
}

// BlockIOStatsProvider exposes cumulative block reads and writes.
type BlockIOStatsProvider interface {
	DiskReads() int64
	DiskWrites() int64
}

// RegisterCacheMetrics registers observable gauges reporting the hit/miss
// counts of cache under the "cache" attribute name. When cache also
// implements BlockIOStatsProvider, block reads and writes are reported too.
// Unregister the returned registration when the cache goes away.
func RegisterCacheMetrics(mt metric.Meter, name string, cache CacheStatsProvider) (metric.Registration, error) {
	hits, err := mt.Int64ObservableGauge(metricCacheHits,
		metric.WithDescription("Cumulative cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheHits, err)
	}

	misses, err := mt.Int64ObservableGauge(metricCacheMisses,
		metric.WithDescription("Cumulative cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheMisses, err)
	}

	reads, err := mt.Int64ObservableGauge(metricNodeReads,
		metric.WithDescription("Cumulative node blocks read from disk"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricNodeReads, err)
	}

	writes, err := mt.Int64ObservableGauge(metricNodeWrites,
		metric.WithDescription("Cumulative node blocks written to disk"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricNodeWrites, err)
	}

	attrs := metric.WithAttributes(attribute.String(attrCache, name))

	reg, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		if cache == nil {
			return nil
		}

		obs.ObserveInt64(hits, cache.CacheHits(), attrs)
		obs.ObserveInt64(misses, cache.CacheMisses(), attrs)

		if blockIO, ok := cache.(BlockIOStatsProvider); ok {
			obs.ObserveInt64(reads, blockIO.DiskReads(), attrs)
			obs.ObserveInt64(writes, blockIO.DiskWrites(), attrs)
		}

		return nil
	}, hits, misses, reads, writes)
	if err != nil {
		return nil, fmt.Errorf("register cache metrics callback: %w", err)
	}

	return reg, nil
}
