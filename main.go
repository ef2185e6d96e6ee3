package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xtream-proxy/work/buffer"
	"xtream-proxy/work/cache"
	"xtream-proxy/work/client"
	"xtream-proxy/work/config"
	"xtream-proxy/work/epg"
	"xtream-proxy/work/gate"
	"xtream-proxy/work/logger"
	"xtream-proxy/work/middleware"
	"xtream-proxy/work/provider"
	"xtream-proxy/work/thumbs"
	"xtream-proxy/work/token"
	"xtream-proxy/work/xtream"
)

var (
	Version = "v0.1.0" // default version
)

func main() {
	configPath := flag.String("config", "/config/xtream-proxy.json", "path to the JSON config file")
	writeExample := flag.String("write-example-config", "", "write an example config to the given path and exit")
	flag.Parse()

	if *writeExample != "" {
		if err := config.CreateExampleConfig(*writeExample); err != nil {
			logger.Error("{main} Failed to write example config: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Load(*configPath)

	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// worker pool for EPG prefetch
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main} Failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	httpClient := client.NewHeaderSettingClient(cfg)
	connGate := gate.New(cfg.EnableConnectionQueue)

	resultCache, err := cache.New(cfg.EnableExtendedCache)
	if err != nil {
		logger.Error("{main} Failed to create result cache: %v", err)
		os.Exit(1)
	}
	defer resultCache.Close()

	tokens := token.NewService(cfg.BaseURL, httpClient, token.DefaultLifetime, cfg.ObfuscateUrls)

	providerClient := xtream.NewClient(httpClient, xtream.ConnectionInfo{
		BaseURL:  cfg.Provider.BaseURL,
		Username: cfg.Provider.Username,
		Password: cfg.Provider.Password,
	}, cfg.ObfuscateUrls)

	providerSvc := provider.New(providerClient, connGate, resultCache, tokens)

	epgCache := epg.New(providerSvc, workerPool, cfg.EnableEpgPreload)
	defer epgCache.Close()

	thumbCache, err := thumbs.New(thumbs.Options{
		Enabled:        cfg.EnableThumbnailCache,
		Directory:      filepath.Join(cfg.CacheDirectory, "thumbnails"),
		RetentionDays:  cfg.ThumbnailRetentionDays,
		StartHour:      cfg.MaintenanceStartHour,
		EndHour:        cfg.MaintenanceEndHour,
		DownloadWindow: cfg.ThumbnailDownloadWindow,
		ObfuscateUrls:  cfg.ObfuscateUrls,
	}, httpClient)
	if err != nil {
		logger.Error("{main} Failed to create thumbnail cache: %v", err)
		os.Exit(1)
	}
	defer thumbCache.Shutdown()

	app := &App{
		Config:   cfg,
		Provider: providerSvc,
		Epg:      epgCache,
		Thumbs:   thumbCache,
		Tokens:   tokens,
		Gate:     connGate,
		Cache:    resultCache,
		Buffers:  buffer.NewPool(buffer.ChunkSize),
	}

	router := mux.NewRouter()

	// stream relay: no gzip, no counting overhead on the hot path
	router.HandleFunc("/Xtream/Stream/{token}", app.handleStream).Methods("GET")

	// data endpoints
	router.HandleFunc("/api/live/categories", countedHandler(middleware.Gzip(app.handleLiveCategories))).Methods("GET")
	router.HandleFunc("/api/vod/categories", countedHandler(middleware.Gzip(app.handleVodCategories))).Methods("GET")
	router.HandleFunc("/api/series/categories", countedHandler(middleware.Gzip(app.handleSeriesCategories))).Methods("GET")
	router.HandleFunc("/api/live/streams", countedHandler(middleware.Gzip(app.handleLiveStreams))).Methods("GET")
	router.HandleFunc("/api/vod/streams", countedHandler(middleware.Gzip(app.handleVodStreams))).Methods("GET")
	router.HandleFunc("/api/series", countedHandler(middleware.Gzip(app.handleSeries))).Methods("GET")
	router.HandleFunc("/api/user", countedHandler(middleware.Gzip(app.handleUserInfo))).Methods("GET")
	router.HandleFunc("/api/epg/{channelId}/{streamId}", countedHandler(middleware.Gzip(app.handleEpg))).Methods("GET")
	router.HandleFunc("/api/stream-url/{type}/{id}", countedHandler(app.handleStreamURL)).Methods("GET")
	router.HandleFunc("/api/thumbnail", countedHandler(app.handleThumbnail)).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	setupAdminRoutes(router, app)

	logger.Info("Starting Xtream Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Addr: %s", cfg.ListenAddr)
	logger.Info("  - Connection Queue: %v", cfg.EnableConnectionQueue)
	logger.Info("  - Extended Cache: %v", cfg.EnableExtendedCache)
	logger.Info("  - EPG Preload: %v", cfg.EnableEpgPreload)
	logger.Info("  - Thumbnail Cache: %v (retention %d days)", cfg.EnableThumbnailCache, cfg.ThumbnailRetentionDays)
	logger.Info("  - Maintenance Window: %02d:00-%02d:00", cfg.MaintenanceStartHour, cfg.MaintenanceEndHour)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
		// no WriteTimeout: the relay path holds connections open indefinitely
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("{main} Server failed: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("{main} Forced shutdown: %v", err)
	}
}
