package main

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"xtream-proxy/work/logger"
	"xtream-proxy/work/thumbs"
	"xtream-proxy/work/utils"
)

// adminStartTime anchors the uptime report.
var adminStartTime = time.Now()

// StatsResponse is the combined operational snapshot exposed on the admin
// API: gate pressure, per-layer cache effectiveness, thumbnail disk usage and
// streaming slot state.
type StatsResponse struct {
	Uptime      string `json:"uptime"`
	MemoryUsage string `json:"memoryUsage"`
	GoRoutines  int    `json:"goRoutines"`

	GateQueued int64 `json:"gateQueued"`
	GateTotal  int64 `json:"gateTotal"`
	GateBusy   bool  `json:"gateBusy"`

	CacheHits    int64   `json:"cacheHits"`
	CacheMisses  int64   `json:"cacheMisses"`
	CacheHitRate float64 `json:"cacheHitRate"`

	EpgHits         int64   `json:"epgHits"`
	EpgMisses       int64   `json:"epgMisses"`
	EpgPrefetchHits int64   `json:"epgPrefetchHits"`
	EpgHitRate      float64 `json:"epgHitRate"`

	Thumbnails thumbs.Stats `json:"thumbnails"`

	ActiveTokens   int  `json:"activeTokens"`
	StreamSlotBusy bool `json:"streamSlotBusy"`
}

// setupAdminRoutes registers the stats and maintenance endpoints.
func setupAdminRoutes(router *mux.Router, app *App) {
	router.HandleFunc("/admin/api/stats", countedHandler(app.handleAdminStats)).Methods("GET")
	router.HandleFunc("/admin/api/stats/reset", app.handleAdminStatsReset).Methods("POST")
	router.HandleFunc("/admin/api/cache/clear", app.handleAdminCacheClear).Methods("POST")
	router.HandleFunc("/admin/api/thumbnails/cleanup", app.handleAdminThumbnailCleanup).Methods("POST")
	router.HandleFunc("/admin/api/thumbnails/clear", app.handleAdminThumbnailClear).Methods("POST")
}

func (a *App) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:      time.Since(adminStartTime).Round(time.Second).String(),
		MemoryUsage: utils.FormatBytes(int64(mem.Alloc)),
		GoRoutines:  runtime.NumGoroutine(),

		GateQueued: a.Gate.QueuedRequests(),
		GateTotal:  a.Gate.TotalRequests(),
		GateBusy:   a.Gate.IsBusy(),

		CacheHits:    a.Cache.Hits(),
		CacheMisses:  a.Cache.Misses(),
		CacheHitRate: a.Cache.HitRate(),

		EpgHits:         a.Epg.Hits(),
		EpgMisses:       a.Epg.Misses(),
		EpgPrefetchHits: a.Epg.PrefetchHits(),
		EpgHitRate:      a.Epg.HitRate(),

		Thumbnails: a.Thumbs.Statistics(),

		ActiveTokens:   a.Tokens.ActiveTokens(),
		StreamSlotBusy: a.Tokens.SlotBusy(),
	})
}

func (a *App) handleAdminStatsReset(w http.ResponseWriter, r *http.Request) {
	a.Gate.ResetStatistics()
	a.Cache.ResetStatistics()
	a.Epg.ResetStatistics()
	a.Thumbs.ResetStatistics()

	logger.Info("{admin - handleAdminStatsReset} Statistics reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleAdminCacheClear(w http.ResponseWriter, r *http.Request) {
	a.Cache.Clear()
	a.Epg.Clear()

	logger.Info("{admin - handleAdminCacheClear} Result and EPG caches cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleAdminThumbnailCleanup(w http.ResponseWriter, r *http.Request) {
	// run in the request goroutine; the sweep is disk-bound but quick
	a.Thumbs.TriggerCleanup()
	writeJSON(w, http.StatusOK, a.Thumbs.Statistics())
}

func (a *App) handleAdminThumbnailClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Thumbs.ClearCache(); err != nil {
		logger.Error("{admin - handleAdminThumbnailClear} %v", err)
		http.Error(w, "failed to clear thumbnail cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, a.Thumbs.Statistics())
}
