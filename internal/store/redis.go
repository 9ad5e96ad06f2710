package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"DealMetrics/internal/observability"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for GetLatest, which is the hot path of every calculation pass.
// Appends write through to the primary and then refresh the cached latest
// row; GetAsOf always passes through (historical lookups are not cached).
type CachedStore struct {
	primary   Store
	rdb       *redis.Client
	ttl       time.Duration
	factories map[string]RowFactory
	metrics   *observability.Metrics
}

// NewCachedStore creates a cached wrapper around a primary store. metrics may
// be nil.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, factories map[string]RowFactory, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		primary:   primary,
		rdb:       rdb,
		ttl:       ttl,
		factories: factories,
		metrics:   metrics,
	}
}

func latestKey(rollup string, key Key) string {
	return fmt.Sprintf("metric:latest:%s:%s", rollup, key)
}

func (s *CachedStore) GetLatest(ctx context.Context, rollup string, key Key) (Row, error) {
	factory, ok := s.factories[rollup]
	if !ok {
		return nil, fmt.Errorf("store: no row factory registered for rollup %q", rollup)
	}

	// Try cache.
	data, err := s.rdb.Get(ctx, latestKey(rollup, key)).Bytes()
	if err == nil {
		row := factory()
		if json.Unmarshal(data, row) == nil {
			if s.metrics != nil {
				s.metrics.CacheHits.WithLabelValues(rollup).Inc()
			}
			return row, nil
		}
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues(rollup).Inc()
	}

	// Cache miss or decode failure: read from primary.
	row, err := s.primary.GetLatest(ctx, rollup, key)
	if err != nil || row == nil {
		return row, err
	}

	s.cacheLatest(ctx, rollup, row)
	return row, nil
}

func (s *CachedStore) GetAsOf(ctx context.Context, rollup string, key Key, unix int64) (Row, error) {
	return s.primary.GetAsOf(ctx, rollup, key, unix)
}

func (s *CachedStore) Append(ctx context.Context, rollup string, rows []Row) error {
	if err := s.primary.Append(ctx, rollup, rows); err != nil {
		return err
	}

	// Refresh the cached latest row per key. Rows arrive in emission order,
	// so the last row per key is the new latest.
	latest := make(map[Key]Row, len(rows))
	for _, row := range rows {
		cur, ok := latest[row.Key()]
		if !ok || row.Cursor() > cur.Cursor() {
			latest[row.Key()] = row
		}
	}
	for _, row := range latest {
		s.cacheLatest(ctx, rollup, row)
	}
	return nil
}

func (s *CachedStore) cacheLatest(ctx context.Context, rollup string, row Row) {
	data, err := json.Marshal(row)
	if err != nil {
		return
	}
	// Cache errors are non-fatal: the primary remains the source of truth.
	s.rdb.Set(ctx, latestKey(rollup, row.Key()), data, s.ttl)
}
