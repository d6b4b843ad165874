package transfer

import (
	"time"

	"github.com/docker/go-units"
)

// Upload defaults
const (
	// DefaultChunkSize is the size of each upload chunk in bytes
	DefaultChunkSize = 1 * units.MiB

	// DefaultMaxConcurrent is the maximum number of chunks uploaded simultaneously per session
	DefaultMaxConcurrent = 3

	// DefaultMaxRetries is the maximum number of times to retry a failed chunk
	DefaultMaxRetries = 3

	// initialRetryDelay is the base delay for exponential backoff (doubles per attempt)
	initialRetryDelay = 1 * time.Second

	// maxRetryDelay caps the exponential backoff
	maxRetryDelay = 30 * time.Second

	// digestParallelism bounds the number of goroutines hashing chunks during planning
	digestParallelism = 4
)

// Options configures one upload session. The zero value selects the defaults.
type Options struct {
	// ChunkSize is the byte length of each chunk (default 1 MiB).
	ChunkSize int64

	// MaxConcurrent bounds the number of chunks in flight at once (default 3).
	MaxConcurrent int

	// MaxRetries is the per-chunk retry budget (default 3).
	MaxRetries int

	// MaxFileSize rejects files larger than this before planning. Zero means unbounded.
	MaxFileSize int64

	// retryBaseDelay overrides the backoff base delay in tests.
	retryBaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}
