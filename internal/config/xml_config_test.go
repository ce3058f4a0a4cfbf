package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "karaheat.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<KaraHeat>")
	assert.Contains(t, string(data), "<RegionSuffix>-inner</RegionSuffix>")

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDirectory)
	assert.Equal(t, filepath.Join(dir, "data", "layouts"), cfg.Storage.LayoutsDirectory)
	assert.Empty(t, cfg.Storage.DatabasePath)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.SSERetry())
}

func TestLoadConfig_ReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "karaheat.config")
	xmlData := `<?xml version="1.0" encoding="UTF-8"?>
<KaraHeat>
  <Server>
    <Port>9000</Port>
    <BindAddress>0.0.0.0</BindAddress>
  </Server>
  <Storage>
    <Driver>duckdb</Driver>
    <DatabasePath>stats.duckdb</DatabasePath>
  </Storage>
  <Heatmap>
    <Normalizer>percentile</Normalizer>
    <Percentile>0.9</Percentile>
    <KeymapFile>/etc/karaheat/keymap.yaml</KeymapFile>
  </Heatmap>
</KaraHeat>`
	require.NoError(t, os.WriteFile(path, []byte(xmlData), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.GetServerAddr())
	assert.Equal(t, "duckdb", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "stats.duckdb"), cfg.Storage.DatabasePath)
	assert.Equal(t, "percentile", cfg.Heatmap.Normalizer)
	assert.InDelta(t, 0.9, cfg.Heatmap.Percentile, 1e-9)
	assert.Equal(t, "/etc/karaheat/keymap.yaml", cfg.Heatmap.KeymapFile)

	// sections absent from the file keep their defaults
	assert.Equal(t, "-inner", cfg.Heatmap.RegionSuffix)
	assert.Equal(t, 500, cfg.Heatmap.PollIntervalMs)
	assert.Equal(t, 64, cfg.Advanced.WebSocketMaxMessageSize)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORT", "7001")
	t.Setenv("KARASTAT_DB", "/var/lib/karastat/key_stats.sqlite")
	t.Setenv("DATA_DIR", "/srv/karaheat")

	cfg, err := LoadConfig(filepath.Join(dir, "karaheat.config"))
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "/var/lib/karastat/key_stats.sqlite", cfg.Storage.DatabasePath)
	assert.Equal(t, "/srv/karaheat", cfg.Storage.DataDirectory)
	assert.Equal(t, "/srv/karaheat/layouts", cfg.Storage.LayoutsDirectory)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karaheat.config")
	require.NoError(t, os.WriteFile(path, []byte("<KaraHeat><Server>"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.AllowOrigins = "http://localhost:5173, http://127.0.0.1:8089,"
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:8089"}, cfg.AllowedOrigins())

	cfg.Server.EnableCORS = false
	assert.Nil(t, cfg.AllowedOrigins())
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDirectory = filepath.Join(dir, "data")
	cfg.Storage.LayoutsDirectory = filepath.Join(dir, "data", "layouts")

	require.NoError(t, cfg.EnsureDirectories())
	info, err := os.Stat(cfg.Storage.LayoutsDirectory)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
