package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ApiRequests counts provider API calls dispatched through the connection gate.
// This metric is a counter and only increases.
var ApiRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "xtream_proxy_api_requests_total",
	Help: "Total provider API requests dispatched",
})

// HttpRequests counts HTTP requests served on the data and admin endpoints.
// The stream relay path is excluded to keep it overhead free.
var HttpRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "xtream_proxy_http_requests_total",
	Help: "Total HTTP requests served on data endpoints",
})

// QueuedRequests tracks the number of callers currently waiting on the
// connection gate. This metric is a gauge and moves with the queue.
var QueuedRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "xtream_proxy_queued_requests",
	Help: "Provider API requests currently queued",
})

// CacheHits counts cache hits per cache layer ("result", "epg", "thumbnail").
var CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_proxy_cache_hits_total",
	Help: "Cache hits per layer",
}, []string{"layer"})

// CacheMisses counts cache misses per cache layer.
var CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_proxy_cache_misses_total",
	Help: "Cache misses per layer",
}, []string{"layer"})

// PrefetchHits counts EPG cache hits that were served from a prefetched entry.
var PrefetchHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "xtream_proxy_epg_prefetch_hits_total",
	Help: "EPG cache hits served from prefetched entries",
})

// StreamSlotBusy is 1 while the single provider streaming slot is held.
var StreamSlotBusy = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "xtream_proxy_stream_slot_busy",
	Help: "Whether the provider streaming slot is currently held",
})

// StreamBytesRelayed counts bytes relayed from the provider to clients.
var StreamBytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "xtream_proxy_stream_bytes_relayed_total",
	Help: "Bytes relayed from provider streams to clients",
})

// ThumbnailFiles tracks the number of files currently in the thumbnail cache,
// as observed by the last retention sweep.
var ThumbnailFiles = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "xtream_proxy_thumbnail_files",
	Help: "Files in the thumbnail disk cache",
})

// ThumbnailBytes tracks the total size of the thumbnail cache in bytes.
var ThumbnailBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "xtream_proxy_thumbnail_bytes",
	Help: "Total size of the thumbnail disk cache in bytes",
})
