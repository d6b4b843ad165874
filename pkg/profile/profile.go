package profile

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the profile file looked up in the working directory.
const DefaultFileName = "courier.toml"

// DefaultInclude matches every regular file under the working directory.
var DefaultInclude = []string{"./*"}

// Profile is the per-directory upload profile read from courier.toml.
// Values here override the global config but lose to command-line flags.
//
// Example:
//
//	[courier]
//	endpoint = "https://upload.example.com"
//	include = ["data/**/*.bin", "*.csv"]
//
//	[courier.upload]
//	chunk_size = "4MiB"
//	max_concurrent = 5
//	max_retries = 2
//	max_file_size = "1GiB"
type Profile struct {
	Courier CourierSection `toml:"courier"`
}

// CourierSection is the [courier] table.
type CourierSection struct {
	Endpoint string        `toml:"endpoint,omitempty"`
	Include  []string      `toml:"include,omitempty"`
	Upload   UploadSection `toml:"upload,omitempty"`
}

// UploadSection is the [courier.upload] table. Byte sizes are written as
// human strings ("4MiB", "512KiB").
type UploadSection struct {
	ChunkSize     string `toml:"chunk_size,omitempty"`
	MaxConcurrent int    `toml:"max_concurrent,omitempty"`
	MaxRetries    int    `toml:"max_retries,omitempty"`
	MaxFileSize   string `toml:"max_file_size,omitempty"`
}

// Load reads and parses a courier.toml profile. A missing file is not an
// error: callers get (nil, nil) and fall back to the global config.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from the working directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	applyDefaults(&p)

	return &p, nil
}

// Write serializes the profile to path, refusing to overwrite an
// existing file.
func Write(path string, p *Profile) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize profile: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // Profile is not sensitive
		return fmt.Errorf("failed to write profile: %w", err)
	}

	return nil
}

func (p *Profile) validate() error {
	if _, err := p.ChunkSizeBytes(); err != nil {
		return fmt.Errorf("chunk_size: %w", err)
	}
	if _, err := p.MaxFileSizeBytes(); err != nil {
		return fmt.Errorf("max_file_size: %w", err)
	}
	if p.Courier.Upload.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative")
	}
	if p.Courier.Upload.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

func applyDefaults(p *Profile) {
	if len(p.Courier.Include) == 0 {
		p.Courier.Include = DefaultInclude
	}
}

// ChunkSizeBytes returns the configured chunk size in bytes, zero if unset.
func (p *Profile) ChunkSizeBytes() (int64, error) {
	return parseSize(p.Courier.Upload.ChunkSize)
}

// MaxFileSizeBytes returns the configured file-size cap in bytes, zero if unset.
func (p *Profile) MaxFileSizeBytes() (int64, error) {
	return parseSize(p.Courier.Upload.MaxFileSize)
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}
