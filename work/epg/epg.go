package epg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
)

const (
	// prefetchThreshold is the cache age beyond which a hit schedules a
	// background refresh (80% of the 30-minute baseline TTL).
	prefetchThreshold = 24 * time.Minute

	// sweepInterval is how often stale bookkeeping is cleaned up.
	sweepInterval = 24 * time.Hour

	// staleAfter is how long a channel may go untouched before its locks and
	// timestamps are dropped.
	staleAfter = 7 * 24 * time.Hour

	// emptyResultTTL caches an empty program set so a dead channel isn't
	// hammered on every guide request.
	emptyResultTTL = 30 * time.Minute

	// disabledPreloadTTL applies to everything when EPG preload is off.
	disabledPreloadTTL = 5 * time.Minute

	// prefetchTimeout bounds a single background refresh.
	prefetchTimeout = time.Minute

	// shutdownWait bounds how long Close waits for in-flight prefetches.
	shutdownWait = 5 * time.Second
)

// ProgramInfo is a single guide entry. Immutable once constructed.
type ProgramInfo struct {
	ID        string
	ChannelID string
	Start     time.Time
	End       time.Time
	Title     string
	Overview  string
}

// Fetcher loads the full program table for one channel from the provider.
type Fetcher interface {
	FetchPrograms(ctx context.Context, channelID string, streamID int) ([]ProgramInfo, error)
}

// cachedData is the unit of storage: a full program set for one channel.
// Entries are only ever replaced whole, never partially updated.
type cachedData struct {
	Programs      []ProgramInfo
	CachedAt      time.Time
	ExpiresAt     time.Time
	WasPrefetched bool
}

func (d *cachedData) expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Cache serves per-channel program listings with single-flight fetching,
// content-adaptive TTLs and supervised background prefetch. All statistics
// are owned by the instance so isolated caches can coexist in tests.
type Cache struct {
	entries    *xsync.MapOf[string, *cachedData]
	fetchLocks *xsync.MapOf[string, chan struct{}]
	lastUpdate *xsync.MapOf[string, time.Time]
	fetcher    Fetcher
	pool       *ants.Pool
	preload    bool

	hits         atomic.Int64
	misses       atomic.Int64
	prefetchHits atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an adaptive EPG cache. The worker pool runs background
// prefetches; preload enables both the adaptive TTLs and the prefetch path.
// The periodic bookkeeping sweep starts immediately and runs until Close.
func New(fetcher Fetcher, pool *ants.Pool, preload bool) *Cache {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cache{
		entries:    xsync.NewMapOf[string, *cachedData](),
		fetchLocks: xsync.NewMapOf[string, chan struct{}](),
		lastUpdate: xsync.NewMapOf[string, time.Time](),
		fetcher:    fetcher,
		pool:       pool,
		preload:    preload,
		ctx:        ctx,
		cancel:     cancel,
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// GetPrograms returns the channel's programs overlapping [startUtc, endUtc).
// A hit may schedule a non-blocking background refresh when the entry is
// nearing expiry; a miss fetches under a per-channel lock so concurrent
// callers share one provider call.
func (c *Cache) GetPrograms(ctx context.Context, channelID string, streamID int, startUtc, endUtc time.Time) ([]ProgramInfo, error) {
	key := cacheKey(channelID)

	if data, ok := c.entries.Load(key); ok && !data.expired(time.Now()) {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues("epg").Inc()

		if data.WasPrefetched {
			c.prefetchHits.Add(1)
			metrics.PrefetchHits.Inc()
			logger.Debug("{epg - GetPrograms} Cache hit (prefetched) for channel %s", channelID)
		} else {
			logger.Debug("{epg - GetPrograms} Cache hit for channel %s", channelID)
		}

		c.schedulePrefetch(channelID, streamID, data)

		return filterByRange(data.Programs, startUtc, endUtc), nil
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("epg").Inc()
	logger.Debug("{epg - GetPrograms} Cache miss for channel %s", channelID)

	return c.fetchAndCache(ctx, channelID, streamID, startUtc, endUtc, false)
}

// fetchAndCache queries the provider under the per-channel fetch lock. The
// cache is double-checked after acquiring the lock so concurrent misses
// collapse into a single provider call. Prefetch refreshes skip the
// double-check for entries past the prefetch threshold so they actually
// replace aging data.
func (c *Cache) fetchAndCache(ctx context.Context, channelID string, streamID int, startUtc, endUtc time.Time, isPrefetch bool) ([]ProgramInfo, error) {
	key := cacheKey(channelID)

	lock, _ := c.fetchLocks.LoadOrStore(key, make(chan struct{}, 1))
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-lock }()

	// double-check after acquiring the lock
	now := time.Now()
	if data, ok := c.entries.Load(key); ok && !data.expired(now) {
		fresh := now.Sub(data.CachedAt) < prefetchThreshold
		if !isPrefetch || fresh {
			return filterByRange(data.Programs, startUtc, endUtc), nil
		}
	}

	programs, err := c.fetcher.FetchPrograms(ctx, channelID, streamID)
	if err != nil {
		return nil, err
	}

	ttl := adaptiveTTL(programs, c.preload)
	cachedAt := time.Now().UTC()
	c.entries.Store(key, &cachedData{
		Programs:      programs,
		CachedAt:      cachedAt,
		ExpiresAt:     cachedAt.Add(ttl),
		WasPrefetched: isPrefetch,
	})
	c.lastUpdate.Store(key, cachedAt)

	prefetchNote := ""
	if isPrefetch {
		prefetchNote = " (prefetched)"
	}
	logger.Info("{epg - fetchAndCache} Cached EPG for channel %s: %d programs, TTL %.1f min%s",
		channelID, len(programs), ttl.Minutes(), prefetchNote)

	return filterByRange(programs, startUtc, endUtc), nil
}

// schedulePrefetch hands an aging entry to the worker pool for a background
// refresh. The caller already holds cached data, so refresh failures are
// logged and otherwise ignored.
func (c *Cache) schedulePrefetch(channelID string, streamID int, data *cachedData) {
	if !c.preload {
		return
	}
	if time.Since(data.CachedAt) < prefetchThreshold {
		return
	}

	c.wg.Add(1)
	err := c.pool.Submit(func() {
		defer c.wg.Done()

		logger.Debug("{epg - schedulePrefetch} Triggering background prefetch for channel %s", channelID)

		ctx, cancel := context.WithTimeout(c.ctx, prefetchTimeout)
		defer cancel()

		if _, err := c.fetchAndCache(ctx, channelID, streamID, time.Time{}, time.Time{}, true); err != nil &&
			!errors.Is(err, context.Canceled) {
			logger.Warn("{epg - schedulePrefetch} Failed to prefetch EPG for channel %s: %v", channelID, err)
		}
	})
	if err != nil {
		c.wg.Done()
		logger.Warn("{epg - schedulePrefetch} Worker pool rejected prefetch for channel %s: %v", channelID, err)
	}
}

// adaptiveTTL picks the cache lifetime from the shape of the fetched data.
// Short programs mean a guide that changes often; long ones can sit longer.
func adaptiveTTL(programs []ProgramInfo, preload bool) time.Duration {
	if !preload {
		return disabledPreloadTTL
	}
	if len(programs) == 0 {
		return emptyResultTTL
	}

	var total time.Duration
	for _, p := range programs {
		total += p.End.Sub(p.Start)
	}
	avg := total / time.Duration(len(programs))

	switch {
	case avg < 30*time.Minute:
		return 15 * time.Minute
	case avg < 60*time.Minute:
		return 30 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// filterByRange returns the programs overlapping [startUtc, endUtc). Zero
// bounds return everything (used by the prefetch path).
func filterByRange(programs []ProgramInfo, startUtc, endUtc time.Time) []ProgramInfo {
	if startUtc.IsZero() && endUtc.IsZero() {
		return programs
	}

	filtered := make([]ProgramInfo, 0, len(programs))
	for _, p := range programs {
		if !p.End.Before(startUtc) && p.Start.Before(endUtc) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// sweepLoop periodically drops bookkeeping for channels nobody has asked
// about in a while. Entries themselves expire independently via their TTL.
func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("{epg - sweepLoop} Bookkeeping sweep stopped")
			return
		case <-ticker.C:
			c.CleanupStaleEntries()
		}
	}
}

// CleanupStaleEntries removes fetch locks, timestamps and expired entries for
// channels untouched for the stale window. Also run on the periodic sweep.
// A lock currently held by an in-flight fetch is left alone; deleting it
// would let a racing miss mint a second lock for the same key and break the
// single-fetch guarantee. The key is picked up again on the next sweep.
func (c *Cache) CleanupStaleEntries() {
	cutoff := time.Now().Add(-staleAfter)
	removed := 0

	c.lastUpdate.Range(func(key string, updated time.Time) bool {
		if !updated.Before(cutoff) {
			return true
		}

		lock, held := c.fetchLocks.Load(key)
		if held {
			select {
			case lock <- struct{}{}:
			default:
				// a fetch is in flight for this key
				return true
			}
		}

		c.lastUpdate.Delete(key)
		c.fetchLocks.Delete(key)
		c.entries.Delete(key)
		if held {
			<-lock
		}
		removed++
		return true
	})

	if removed > 0 {
		logger.Info("{epg - CleanupStaleEntries} Cleaned up %d stale EPG channels", removed)
	}
}

// Clear drops all entries and bookkeeping. Statistics are kept.
func (c *Cache) Clear() {
	c.entries.Clear()
	c.fetchLocks.Clear()
	c.lastUpdate.Clear()
	logger.Info("{epg - Clear} EPG cache cleared")
}

// Hits returns the cache hit count since the last reset.
func (c *Cache) Hits() int64 { return c.hits.Load() }

// Misses returns the cache miss count since the last reset.
func (c *Cache) Misses() int64 { return c.misses.Load() }

// PrefetchHits returns how many hits were served from prefetched entries.
func (c *Cache) PrefetchHits() int64 { return c.prefetchHits.Load() }

// HitRate returns the hit rate as a percentage.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) * 100.0 / float64(total)
}

// ResetStatistics zeroes all counters.
func (c *Cache) ResetStatistics() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.prefetchHits.Store(0)
}

// Close cancels background work and waits a bounded interval for in-flight
// prefetches and the sweep loop to finish.
func (c *Cache) Close() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("{epg - Close} EPG cache shut down cleanly")
	case <-time.After(shutdownWait):
		logger.Warn("{epg - Close} Timed out waiting for EPG background work to finish")
	}
}

func cacheKey(channelID string) string {
	return fmt.Sprintf("epg-v2-%s", channelID)
}
