package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	t.Setenv("COURIER_CONFIG_PATH", configPath)

	yaml := `endpoint: https://upload.example.com
chunksize: 2MiB
maxconcurrent: 5
maxretries: 2
maxfilesize: 1GiB
loglevel: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://upload.example.com", cfg.Endpoint)
	assert.Equal(t, int64(2*1024*1024), cfg.ChunkSize)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, int64(1024*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, slog.LevelDebug, cfg.GetLogLevel())
}

func TestLoadCreatesMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sub", "config.yaml")
	t.Setenv("COURIER_CONFIG_PATH", configPath)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Endpoint)
	assert.Zero(t, cfg.ChunkSize)
	assert.Equal(t, slog.LevelInfo, cfg.GetLogLevel())

	_, err = os.Stat(configPath)
	assert.NoError(t, err)
}

func TestLoadRejectsBadSize(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	t.Setenv("COURIER_CONFIG_PATH", configPath)
	require.NoError(t, os.WriteFile(configPath, []byte("chunksize: banana\n"), 0o600))

	_, err := Load()
	assert.ErrorContains(t, err, "invalid chunksize")
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, (&Config{}).GetLogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warn"}).GetLogLevel())
	assert.Equal(t, slog.LevelError, (&Config{LogLevel: "error"}).GetLogLevel())
}
