package thumbs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"xtream-proxy/work/client"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
	"xtream-proxy/work/utils"
)

// shutdownWait bounds how long Shutdown waits for a running maintenance job.
const shutdownWait = 5 * time.Second

// Options configures the disk cache. Hours are local clock hours; retention
// is measured against a file's last access, tracked via its mtime.
type Options struct {
	Enabled        bool
	Directory      string
	RetentionDays  int
	StartHour      int
	EndHour        int
	DownloadWindow time.Duration
	ObfuscateUrls  bool
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Enabled   bool   `json:"enabled"`
	Files     int64  `json:"files"`
	Bytes     int64  `json:"bytes"`
	BytesText string `json:"bytesText"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Downloads int64  `json:"downloads"`
	Failures  int64  `json:"failures"`
}

// Cache stores remote thumbnails as content-addressed files on disk. Keys are
// the sha256 of the source URL; files live under a two-hex-char subdirectory
// so no single directory grows unbounded. Concurrent requests for the same
// URL collapse into one download, and a daily maintenance job evicts files
// not accessed within the retention window.
type Cache struct {
	opts Options
	http *client.HeaderSettingClient

	group singleflight.Group
	cron  *cron.Cron

	files     atomic.Int64
	bytes     atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	downloads atomic.Int64
	failures  atomic.Int64
}

// New creates the thumbnail cache, scans the existing directory for stats and
// schedules the daily maintenance job at the configured start hour. A
// disabled cache is still a valid instance; every lookup falls through to the
// source URL.
func New(opts Options, httpClient *client.HeaderSettingClient) (*Cache, error) {
	c := &Cache{
		opts: opts,
		http: httpClient,
		cron: cron.New(),
	}

	if !opts.Enabled {
		logger.Info("{thumbs - New} Thumbnail cache disabled")
		return c, nil
	}

	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	c.rescanStats()

	spec := fmt.Sprintf("0 %d * * *", opts.StartHour)
	if _, err := c.cron.AddFunc(spec, c.runMaintenance); err != nil {
		return nil, fmt.Errorf("failed to schedule thumbnail maintenance: %w", err)
	}
	c.cron.Start()

	logger.Info("{thumbs - New} Thumbnail cache at %s: %d files, %s, maintenance daily at %02d:00",
		opts.Directory, c.files.Load(), utils.FormatBytes(c.bytes.Load()), opts.StartHour)

	return c, nil
}

// Fetch returns the local path of the cached thumbnail for url, downloading
// it first if needed. When the cache is disabled, the URL is empty, or the
// download fails, it returns the source URL unchanged with ok set to false so
// callers can point clients straight at the origin.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (path string, ok bool) {
	if !c.opts.Enabled || rawURL == "" {
		return rawURL, false
	}

	key := cacheKey(rawURL)
	local := c.pathFor(key)

	if _, err := os.Stat(local); err == nil {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues("thumbnail").Inc()
		now := time.Now()
		// mtime doubles as last-access for retention eviction
		if err := os.Chtimes(local, now, now); err != nil {
			logger.Debug("{thumbs - Fetch} Failed to touch %s: %v", local, err)
		}
		return local, true
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("thumbnail").Inc()

	_, err, _ := c.group.Do(key, func() (any, error) {
		if _, err := os.Stat(local); err == nil {
			return nil, nil
		}
		return nil, c.download(ctx, rawURL, key, local)
	})
	if err != nil {
		c.failures.Add(1)
		logger.Warn("{thumbs - Fetch} Failed to cache thumbnail %s: %v",
			utils.LogURL(c.opts.ObfuscateUrls, rawURL), err)
		return rawURL, false
	}

	return local, true
}

// download writes the thumbnail to a temp file in the final subdirectory and
// renames it into place, so a partially written file is never visible under
// its cache key.
func (c *Cache) download(ctx context.Context, rawURL, key, local string) error {
	if c.opts.DownloadWindow > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DownloadWindow)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail source returned HTTP %d", resp.StatusCode)
	}

	subdir := filepath.Dir(local)
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(subdir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}

	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize thumbnail: %w", err)
	}

	c.downloads.Add(1)
	c.files.Add(1)
	c.bytes.Add(written)
	metrics.ThumbnailFiles.Inc()
	metrics.ThumbnailBytes.Add(float64(written))

	logger.Debug("{thumbs - download} Cached %s (%s)", key, utils.FormatBytes(written))
	return nil
}

// runMaintenance is the scheduled daily job. It evicts expired files until
// done or until the local clock passes the configured end hour, then prunes
// empty subdirectories and refreshes the counters.
func (c *Cache) runMaintenance() {
	var deadline time.Time
	if c.opts.EndHour > c.opts.StartHour {
		now := time.Now()
		deadline = time.Date(now.Year(), now.Month(), now.Day(), c.opts.EndHour, 0, 0, 0, now.Location())
	}
	c.sweep(deadline)
}

// TriggerCleanup runs the retention sweep immediately, ignoring the
// maintenance window. Exposed on the admin surface.
func (c *Cache) TriggerCleanup() {
	if !c.opts.Enabled {
		return
	}
	c.sweep(time.Time{})
}

// sweep removes files whose last access is older than the retention window.
// A non-zero deadline aborts the scan when the clock passes it; progress up
// to that point is kept.
func (c *Cache) sweep(deadline time.Time) {
	cutoff := time.Now().AddDate(0, 0, -c.opts.RetentionDays)
	removed, reclaimed := 0, int64(0)
	aborted := false

	err := filepath.Walk(c.opts.Directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			aborted = true
			return filepath.SkipAll
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logger.Warn("{thumbs - sweep} Failed to remove %s: %v", path, err)
				return nil
			}
			removed++
			reclaimed += info.Size()
		}
		return nil
	})
	if err != nil {
		logger.Warn("{thumbs - sweep} Thumbnail sweep failed: %v", err)
	}

	c.pruneEmptyDirs()
	c.rescanStats()

	if aborted {
		logger.Info("{thumbs - sweep} Maintenance window ended early: removed %d files (%s), will resume tomorrow",
			removed, utils.FormatBytes(reclaimed))
	} else {
		logger.Info("{thumbs - sweep} Maintenance removed %d files (%s)", removed, utils.FormatBytes(reclaimed))
	}
}

// pruneEmptyDirs drops cache subdirectories left empty by eviction.
func (c *Cache) pruneEmptyDirs() {
	entries, err := os.ReadDir(c.opts.Directory)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(c.opts.Directory, entry.Name())
		children, err := os.ReadDir(sub)
		if err == nil && len(children) == 0 {
			os.Remove(sub)
		}
	}
}

// ClearCache removes every cached thumbnail and resets the size counters.
func (c *Cache) ClearCache() error {
	if !c.opts.Enabled {
		return nil
	}

	entries, err := os.ReadDir(c.opts.Directory)
	if err != nil {
		return fmt.Errorf("failed to read thumbnail directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.opts.Directory, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear thumbnail cache: %w", err)
		}
	}

	c.rescanStats()
	logger.Info("{thumbs - ClearCache} Thumbnail cache cleared")
	return nil
}

// rescanStats walks the cache directory and resets the file and byte
// counters to what is actually on disk.
func (c *Cache) rescanStats() {
	var files, bytes int64
	filepath.Walk(c.opts.Directory, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})

	c.files.Store(files)
	c.bytes.Store(bytes)
	metrics.ThumbnailFiles.Set(float64(files))
	metrics.ThumbnailBytes.Set(float64(bytes))
}

// Statistics returns a snapshot of the cache counters.
func (c *Cache) Statistics() Stats {
	return Stats{
		Enabled:   c.opts.Enabled,
		Files:     c.files.Load(),
		Bytes:     c.bytes.Load(),
		BytesText: utils.FormatBytes(c.bytes.Load()),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Downloads: c.downloads.Load(),
		Failures:  c.failures.Load(),
	}
}

// ResetStatistics zeroes the activity counters. File and byte totals reflect
// disk contents and are left alone.
func (c *Cache) ResetStatistics() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.downloads.Store(0)
	c.failures.Store(0)
}

// Shutdown stops the maintenance scheduler, waiting a bounded interval for a
// running job to finish.
func (c *Cache) Shutdown() {
	ctx := c.cron.Stop()
	select {
	case <-ctx.Done():
		logger.Debug("{thumbs - Shutdown} Thumbnail maintenance stopped cleanly")
	case <-time.After(shutdownWait):
		logger.Warn("{thumbs - Shutdown} Timed out waiting for thumbnail maintenance to stop")
	}
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.opts.Directory, key[:2], key)
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
