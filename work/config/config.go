package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration values for the Xtream proxy server.
// It covers the provider connection, the connection gate, the cache layers and
// the thumbnail maintenance window.
type Config struct {
	BaseURL                 string        // Base URL clients use to reach this server (proxy URLs are built from it)
	ListenAddr              string        // Address the HTTP server binds to
	CacheDirectory          string        // Root directory for the on-disk thumbnail cache
	UserAgent               string        // User-Agent header sent on all provider requests
	Debug                   bool          // Enable debug logging
	ObfuscateUrls           bool          // Obfuscate provider URLs in logs
	EnableConnectionQueue   bool          // Serialize provider metadata calls through the connection gate
	EnableExtendedCache     bool          // Use the long per-category TTL presets instead of a short flat TTL
	EnableEpgPreload        bool          // Enable adaptive EPG TTLs and background prefetch
	EnableThumbnailCache    bool          // Mirror remote thumbnails onto local disk
	ThumbnailRetentionDays  int           // Days a thumbnail may go unaccessed before eviction
	MaintenanceStartHour    int           // Hour of day (0-23) when the retention sweep starts
	MaintenanceEndHour      int           // Hour of day (0-23) after which a running sweep aborts
	StreamResponseTimeout   time.Duration // Timeout for reading provider response headers (bodies stream untimed)
	ThumbnailDownloadWindow time.Duration // Timeout for a single thumbnail download
	WorkerThreads           int           // Size of the background worker pool (EPG prefetch)
	Provider                ProviderConfig
}

// ProviderConfig is the connection descriptor for the upstream Xtream provider.
type ProviderConfig struct {
	BaseURL  string `json:"baseURL"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// configFile mirrors Config for JSON unmarshaling; durations are strings
// (e.g. "30s") and parsed into time.Duration values.
type configFile struct {
	BaseURL                 string         `json:"baseURL"`
	ListenAddr              string         `json:"listenAddr"`
	CacheDirectory          string         `json:"cacheDirectory"`
	UserAgent               string         `json:"userAgent"`
	Debug                   bool           `json:"debug"`
	ObfuscateUrls           bool           `json:"obfuscateUrls"`
	EnableConnectionQueue   *bool          `json:"enableConnectionQueue"`
	EnableExtendedCache     *bool          `json:"enableExtendedCache"`
	EnableEpgPreload        *bool          `json:"enableEpgPreload"`
	EnableThumbnailCache    *bool          `json:"enableThumbnailCache"`
	ThumbnailRetentionDays  int            `json:"thumbnailRetentionDays"`
	MaintenanceStartHour    *int           `json:"maintenanceStartHour"`
	MaintenanceEndHour      *int           `json:"maintenanceEndHour"`
	StreamResponseTimeout   string         `json:"streamResponseTimeout"`
	ThumbnailDownloadWindow string         `json:"thumbnailDownloadWindow"`
	WorkerThreads           int            `json:"workerThreads"`
	Provider                ProviderConfig `json:"provider"`
}

// Load reads the configuration from the given JSON file. A missing or broken
// file falls back to the default configuration so the server can still come up.
func Load(path string) *Config {
	cfg, err := loadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v, using defaults\n", path, err)
		cfg = Default()
	}

	ValidateAndSetDefaults(cfg)
	return cfg
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&cf)
}

// convertFromFile converts a configFile to Config, parsing duration strings
// and resolving the optional boolean knobs (absent means enabled).
func convertFromFile(cf *configFile) (*Config, error) {
	cfg := &Config{
		BaseURL:                cf.BaseURL,
		ListenAddr:             cf.ListenAddr,
		CacheDirectory:         cf.CacheDirectory,
		UserAgent:              cf.UserAgent,
		Debug:                  cf.Debug,
		ObfuscateUrls:          cf.ObfuscateUrls,
		EnableConnectionQueue:  boolOr(cf.EnableConnectionQueue, true),
		EnableExtendedCache:    boolOr(cf.EnableExtendedCache, true),
		EnableEpgPreload:       boolOr(cf.EnableEpgPreload, true),
		EnableThumbnailCache:   boolOr(cf.EnableThumbnailCache, true),
		ThumbnailRetentionDays: cf.ThumbnailRetentionDays,
		MaintenanceStartHour:   intOr(cf.MaintenanceStartHour, 3),
		MaintenanceEndHour:     intOr(cf.MaintenanceEndHour, 6),
		WorkerThreads:          cf.WorkerThreads,
		Provider:               cf.Provider,
	}

	// Parse duration fields, leaving zero values for the validator to default
	var err error
	if cf.StreamResponseTimeout != "" {
		if cfg.StreamResponseTimeout, err = time.ParseDuration(cf.StreamResponseTimeout); err != nil {
			return nil, fmt.Errorf("invalid streamResponseTimeout: %w", err)
		}
	}
	if cf.ThumbnailDownloadWindow != "" {
		if cfg.ThumbnailDownloadWindow, err = time.ParseDuration(cf.ThumbnailDownloadWindow); err != nil {
			return nil, fmt.Errorf("invalid thumbnailDownloadWindow: %w", err)
		}
	}

	return cfg, nil
}

// Default returns a baseline configuration with sensible defaults when no
// file is present.
func Default() *Config {
	return &Config{
		BaseURL:                 "http://localhost:8080",
		ListenAddr:              ":8080",
		CacheDirectory:          "/cache/thumbnails",
		UserAgent:               "VLC/3.0.18 LibVLC/3.0.18",
		Debug:                   false,
		ObfuscateUrls:           false,
		EnableConnectionQueue:   true,
		EnableExtendedCache:     true,
		EnableEpgPreload:        true,
		EnableThumbnailCache:    true,
		ThumbnailRetentionDays:  30,
		MaintenanceStartHour:    3,
		MaintenanceEndHour:      6,
		StreamResponseTimeout:   30 * time.Second,
		ThumbnailDownloadWindow: 30 * time.Second,
		WorkerThreads:           8,
	}
}

// ValidateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func ValidateAndSetDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.CacheDirectory == "" {
		cfg.CacheDirectory = "/cache/thumbnails"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
	if cfg.ThumbnailRetentionDays <= 0 {
		cfg.ThumbnailRetentionDays = 30
	}
	if cfg.MaintenanceStartHour < 0 || cfg.MaintenanceStartHour > 23 {
		cfg.MaintenanceStartHour = 3
	}
	if cfg.MaintenanceEndHour < 0 || cfg.MaintenanceEndHour > 23 {
		cfg.MaintenanceEndHour = 6
	}
	if cfg.StreamResponseTimeout <= 0 {
		cfg.StreamResponseTimeout = 30 * time.Second
	}
	if cfg.ThumbnailDownloadWindow <= 0 {
		cfg.ThumbnailDownloadWindow = 30 * time.Second
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 8
	}
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	enabled := true
	startHour := 3
	endHour := 6
	example := configFile{
		BaseURL:                 "http://localhost:8080",
		ListenAddr:              ":8080",
		CacheDirectory:          "/cache/thumbnails",
		UserAgent:               "VLC/3.0.18 LibVLC/3.0.18",
		Debug:                   false,
		ObfuscateUrls:           true,
		EnableConnectionQueue:   &enabled,
		EnableExtendedCache:     &enabled,
		EnableEpgPreload:        &enabled,
		EnableThumbnailCache:    &enabled,
		ThumbnailRetentionDays:  30,
		MaintenanceStartHour:    &startHour,
		MaintenanceEndHour:      &endHour,
		StreamResponseTimeout:   "30s",
		ThumbnailDownloadWindow: "30s",
		WorkerThreads:           8,
		Provider: ProviderConfig{
			BaseURL:  "http://provider.example.com:8080",
			Username: "user",
			Password: "pass",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
