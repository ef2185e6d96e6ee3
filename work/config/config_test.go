package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.json"))

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.EnableConnectionQueue)
	assert.True(t, cfg.EnableExtendedCache)
	assert.Equal(t, 30, cfg.ThumbnailRetentionDays)
	assert.Equal(t, 3, cfg.MaintenanceStartHour)
	assert.Equal(t, 6, cfg.MaintenanceEndHour)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"baseURL": "http://proxy.example:9090/",
		"listenAddr": ":9090",
		"enableConnectionQueue": false,
		"enableEpgPreload": false,
		"thumbnailRetentionDays": 14,
		"maintenanceStartHour": 2,
		"maintenanceEndHour": 5,
		"streamResponseTimeout": "45s",
		"workerThreads": 4,
		"provider": {"baseURL": "http://provider.example", "username": "u", "password": "p"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := Load(path)

	assert.Equal(t, "http://proxy.example:9090", cfg.BaseURL, "trailing slash must be trimmed")
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.False(t, cfg.EnableConnectionQueue)
	assert.False(t, cfg.EnableEpgPreload)
	assert.True(t, cfg.EnableExtendedCache, "absent knob defaults to enabled")
	assert.Equal(t, 14, cfg.ThumbnailRetentionDays)
	assert.Equal(t, 2, cfg.MaintenanceStartHour)
	assert.Equal(t, 45*time.Second, cfg.StreamResponseTimeout)
	assert.Equal(t, 4, cfg.WorkerThreads)
	assert.Equal(t, "u", cfg.Provider.Username)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"streamResponseTimeout": "later"}`), 0o644))

	// bad file falls back to the defaults rather than failing startup
	cfg := Load(path)
	assert.Equal(t, 30*time.Second, cfg.StreamResponseTimeout)
}

func TestValidateClampsOutOfRangeValues(t *testing.T) {
	cfg := &Config{
		ThumbnailRetentionDays: -1,
		MaintenanceStartHour:   25,
		MaintenanceEndHour:     -3,
		WorkerThreads:          0,
	}
	ValidateAndSetDefaults(cfg)

	assert.Equal(t, 30, cfg.ThumbnailRetentionDays)
	assert.Equal(t, 3, cfg.MaintenanceStartHour)
	assert.Equal(t, 6, cfg.MaintenanceEndHour)
	assert.Equal(t, 8, cfg.WorkerThreads)
	assert.NotEmpty(t, cfg.UserAgent)
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg := Load(path)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.True(t, cfg.ObfuscateUrls)
	assert.Equal(t, "http://provider.example.com:8080", cfg.Provider.BaseURL)
}
