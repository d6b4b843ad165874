package transport

import (
	"context"
	"fmt"
)

// ChunkRequest carries everything the receiving endpoint needs to store one chunk.
type ChunkRequest struct {
	SessionID   string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	Data        []byte
	Digest      string // hex-encoded SHA-256 of Data
}

// Ack is the endpoint's acknowledgement of a stored chunk.
type Ack struct {
	OK      bool
	Message string
}

// Error is a per-chunk transport failure: a network fault or a non-2xx
// response (including a server-side checksum rejection). It is retryable.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport error: %s", e.Message)
	}
	return fmt.Sprintf("transport error (%d): %s", e.Status, e.Message)
}

// Transporter performs a single chunk's network transfer. Implementations
// must return ctx.Err() promptly when the context is cancelled mid-transfer,
// and a *Error for any other failure.
type Transporter interface {
	Send(ctx context.Context, req ChunkRequest) (Ack, error)
}
