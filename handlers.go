package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"xtream-proxy/work/buffer"
	"xtream-proxy/work/cache"
	"xtream-proxy/work/config"
	"xtream-proxy/work/epg"
	"xtream-proxy/work/gate"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
	"xtream-proxy/work/provider"
	"xtream-proxy/work/relay"
	"xtream-proxy/work/thumbs"
	"xtream-proxy/work/token"
	"xtream-proxy/work/xtream"
)

// defaultEpgWindow is the guide range served when a request carries no
// explicit bounds.
const defaultEpgWindow = 24 * time.Hour

// App bundles the wired services for the HTTP handlers. Everything is
// constructed once in main and shared.
type App struct {
	Config   *config.Config
	Provider *provider.Service
	Epg      *epg.Cache
	Thumbs   *thumbs.Cache
	Tokens   *token.Service
	Gate     *gate.Gate
	Cache    *cache.Cache
	Buffers  *buffer.Pool
}

// writeJSON serializes v with the standard headers. Encoding failures after
// the header is written can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} Failed to encode response: %v", err)
	}
}

// writeError maps internal failures to client responses. Context
// cancellations get no error page; the client is already gone.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// client disconnected while queued or fetching
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		logger.Error("{handlers - writeError} %s %s failed: %v", r.Method, r.URL.Path, err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
	}
}

// countedHandler increments the HTTP request counter before delegating.
func countedHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.HttpRequests.Inc()
		next(w, r)
	}
}

// handleStream redeems a one-time token and relays the upstream stream. No
// compression and no write timeout on this path.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	tok := mux.Vars(r)["token"]

	access, err := a.Tokens.OpenStream(r.Context(), tok)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNoAccess):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, context.Canceled):
			// client gave up while waiting for the streaming slot
		default:
			logger.Error("{handlers - handleStream} Failed to open stream: %v", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}
		return
	}

	relay.Serve(w, r, access, a.Buffers)
}

func (a *App) handleLiveCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.Provider.LiveCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *App) handleVodCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.Provider.VodCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *App) handleSeriesCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.Provider.SeriesCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *App) handleLiveStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := a.Provider.LiveStreams(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (a *App) handleVodStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := a.Provider.VodStreams(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (a *App) handleSeries(w http.ResponseWriter, r *http.Request) {
	series, err := a.Provider.Series(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (a *App) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.Provider.UserInfo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEpg serves the program guide for one channel, bounded by optional
// RFC3339 start/end query parameters (default: the next 24 hours).
func (a *App) handleEpg(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	channelID := vars["channelId"]
	streamID, err := strconv.Atoi(vars["streamId"])
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	start := time.Now().UTC()
	end := start.Add(defaultEpgWindow)
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid start time", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid end time", http.StatusBadRequest)
			return
		}
	}

	programs, err := a.Epg.GetPrograms(r.Context(), channelID, streamID, start.UTC(), end.UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, programs)
}

// handleStreamURL exchanges a stream identity for a one-time proxied URL.
func (a *App) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var streamType xtream.StreamType
	switch vars["type"] {
	case "live":
		streamType = xtream.Live
	case "vod":
		streamType = xtream.Vod
	case "series":
		streamType = xtream.Series
	default:
		http.Error(w, "unknown stream type", http.StatusBadRequest)
		return
	}

	streamID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	proxyURL, err := a.Provider.ProxyURLFor(streamType, streamID, r.URL.Query().Get("ext"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": proxyURL})
}

// handleThumbnail serves a thumbnail from the disk cache, redirecting to the
// source when caching is disabled or the download failed.
func (a *App) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("url")
	if src == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	path, ok := a.Thumbs.Fetch(r.Context(), src)
	if !ok {
		http.Redirect(w, r, src, http.StatusFound)
		return
	}
	http.ServeFile(w, r, path)
}
