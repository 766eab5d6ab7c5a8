package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "round-robin", cfg.Origin.Algorithm)
	assert.Equal(t, 100, cfg.Server.MaxWorkerID)
	assert.Equal(t, ":9091", cfg.Metrics.ListenAddr)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
origin:
  algorithm: least-connections
`), 0o644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "least-connections", cfg.Origin.Algorithm)
	assert.Equal(t, 100, cfg.Server.MaxWorkerID, "unset fields keep their default")
}

func TestLoadFromFileMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := loadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFileRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [this is not a mapping"), 0o644))

	_, err := loadFromFile(path)
	assert.Error(t, err)
}
