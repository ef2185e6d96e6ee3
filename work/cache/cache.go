package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
)

// Category selects the TTL preset for a cached value based on what kind of
// provider data it holds.
type Category int

const (
	// Epg covers raw EPG listings - 10 minutes.
	Epg Category = iota
	// StreamURL covers resolved stream URLs - 30 minutes.
	StreamURL
	// Categories covers category listings - 12 hours.
	Categories
	// Metadata covers VOD/series metadata - 24 hours.
	Metadata
	// ChannelLists covers channel list listings - 6 hours.
	ChannelLists
)

// shortTTL is used for every category when extended caching is disabled.
const shortTTL = 5 * time.Minute

// TTL returns the expiry duration for the category. When extended caching is
// disabled every category degrades to a short flat TTL.
func (c Category) TTL(extended bool) time.Duration {
	if !extended {
		return shortTTL
	}

	switch c {
	case Epg:
		return 10 * time.Minute
	case StreamURL:
		return 30 * time.Minute
	case Categories:
		return 12 * time.Hour
	case Metadata:
		return 24 * time.Hour
	case ChannelLists:
		return 6 * time.Hour
	default:
		return 10 * time.Minute
	}
}

// Weighted lets cached values report their own eviction weight. Values that
// don't implement it are stored with weight 1.
type Weighted interface {
	CacheWeight() int64
}

// Cache memoizes provider fetches with category-based TTLs on top of a
// ristretto store. Hit and miss counters are owned by the instance so tests
// can run isolated caches without cross-test interference.
//
// There is no single-flight guarantee at this layer: concurrent misses for
// the same key may each invoke the factory. Hot paths that need fetch
// collapsing sit behind the adaptive EPG cache instead.
type Cache struct {
	store    *ristretto.Cache[string, any]
	extended bool
	hits     atomic.Int64
	misses   atomic.Int64
}

// New creates a result cache. extended selects between the per-category TTL
// presets and the short flat TTL.
func New(extended bool) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:    store,
		extended: extended,
	}, nil
}

// GetOrCreate returns the cached value for key, or invokes factory on a miss
// and stores the result with the category's absolute expiry. Factory failures
// are returned unchanged and nothing is cached for the key.
func GetOrCreate[T any](ctx context.Context, c *Cache, key string, category Category, factory func(context.Context) (T, error)) (T, error) {
	if cached, ok := c.store.Get(key); ok {
		if value, ok := cached.(T); ok {
			c.hits.Add(1)
			metrics.CacheHits.WithLabelValues("result").Inc()
			logger.Debug("{cache - GetOrCreate} Hit for key: %s", key)
			return value, nil
		}
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("result").Inc()
	logger.Debug("{cache - GetOrCreate} Miss for key: %s", key)

	value, err := factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	weight := int64(1)
	if w, ok := any(value).(Weighted); ok {
		weight = w.CacheWeight()
	}

	c.store.SetWithTTL(key, value, weight, category.TTL(c.extended))
	return value, nil
}

// Remove drops a single cache entry.
func (c *Cache) Remove(key string) {
	c.store.Del(key)
}

// Clear drops every cache entry. Statistics are kept.
func (c *Cache) Clear() {
	c.store.Clear()
}

// Wait blocks until buffered writes have been applied to the store. Mainly
// useful for deterministic reads in tests.
func (c *Cache) Wait() {
	c.store.Wait()
}

// Close releases the underlying store.
func (c *Cache) Close() {
	c.store.Close()
}

// Hits returns the number of cache hits since the last reset.
func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

// Misses returns the number of cache misses since the last reset.
func (c *Cache) Misses() int64 {
	return c.misses.Load()
}

// HitRate returns the hit rate as a percentage.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) * 100.0 / float64(total)
}

// ResetStatistics zeroes the hit and miss counters.
func (c *Cache) ResetStatistics() {
	c.hits.Store(0)
	c.misses.Store(0)
}
