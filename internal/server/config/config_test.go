package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/rooms
worlds: [world, world_nether]
cleanup_interval: 30s
cleanup_min_age: 2m
index_path: /srv/rooms/index.sqlite
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/rooms", cfg.DataDir)
	assert.Equal(t, []string{"world", "world_nether"}, cfg.Worlds)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 2*time.Minute, cfg.CleanupMinAge)
	assert.Equal(t, "/srv/rooms/index.sqlite", cfg.IndexPath)
	assert.Equal(t, 4, cfg.SaveConcurrency, "unset keys keep their defaults")
	assert.Equal(t, float64(200), cfg.CleanupPerSecond)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "worlds: [unclosed"},
		{"zero concurrency", "save_concurrency: 0"},
		{"negative rate", "cleanup_per_second: -1"},
		{"negative interval", "cleanup_interval: -5s"},
		{"unknown level", "log_level: loud"},
		{"duplicate world", "worlds: [a, a]"},
		{"empty data dir", "data_dir: ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMergeKeepsExplicitFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/from/flag"
	cfg.SaveConcurrency = 9

	fromFile := DefaultConfig()
	fromFile.DataDir = "/from/file"
	fromFile.SaveConcurrency = 2
	fromFile.LogLevel = "warn"

	Merge(cfg, fromFile, map[string]bool{"data": true})
	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, 2, cfg.SaveConcurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
