package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".courier"
	DefaultConfigFile = "config.yaml"
)

// Config holds the CLI configuration read from ~/.courier/config.yaml.
// Flag and profile values layer on top of it at command time.
type Config struct {
	// Endpoint is the base URL chunks are pushed to.
	Endpoint string

	// ChunkSize is the upload chunk size in bytes. Zero means the engine default.
	ChunkSize int64

	// MaxConcurrent bounds in-flight chunks per upload. Zero means the engine default.
	MaxConcurrent int

	// MaxRetries is the per-chunk retry budget. Zero means the engine default.
	MaxRetries int

	// MaxFileSize rejects larger files before planning. Zero means unbounded.
	MaxFileSize int64

	// LogLevel is the logging level used with --verbose (debug/info/warn/error).
	LogLevel string
}

// Load reads the configuration from ~/.courier/config.yaml, creating an
// empty file on first use.
func Load() (*Config, error) {
	configPath := getConfigPath()
	viper.Reset() // drop state from any earlier Load
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := ensureConfigDir(); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := viper.WriteConfig(); err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{
		Endpoint:      viper.GetString("endpoint"),
		MaxConcurrent: viper.GetInt("maxconcurrent"),
		MaxRetries:    viper.GetInt("maxretries"),
		LogLevel:      viper.GetString("loglevel"),
	}

	// Byte sizes are written as human strings ("1MiB", "512KiB", "2GB").
	var err error
	if cfg.ChunkSize, err = parseSize(viper.GetString("chunksize")); err != nil {
		return nil, fmt.Errorf("invalid chunksize in config: %w", err)
	}
	if cfg.MaxFileSize, err = parseSize(viper.GetString("maxfilesize")); err != nil {
		return nil, fmt.Errorf("invalid maxfilesize in config: %w", err)
	}

	return cfg, nil
}

// parseSize converts a human-readable byte size to bytes. Empty means unset.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

// GetLogLevel returns the configured slog level, defaulting to info.
func (c *Config) GetLogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getConfigPath() string {
	if path := os.Getenv("COURIER_CONFIG_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback
		return filepath.Join(".", DefaultConfigDir, DefaultConfigFile)
	}

	return filepath.Join(homeDir, DefaultConfigDir, DefaultConfigFile)
}

func ensureConfigDir() error {
	return os.MkdirAll(filepath.Dir(getConfigPath()), 0o700)
}

// Context key for storing config
type contextKey string

const configContextKey contextKey = "config"

// GetContextKey returns the key under which the root command stores the config.
func GetContextKey() any {
	return configContextKey
}

// GetConfigFromContext retrieves the config from the command context.
func GetConfigFromContext(cmd *cobra.Command) (*Config, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, fmt.Errorf("no context available")
	}

	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("config not found in context")
	}

	return cfg, nil
}
