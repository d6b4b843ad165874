package transfer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/courierfs/courier/internal/digest"
	"golang.org/x/sync/errgroup"
)

type chunkState uint8

const (
	chunkPending chunkState = iota
	chunkInFlight
	chunkUploaded
	chunkFailed
)

// chunk is one contiguous byte range of the file. All fields are guarded by
// the owning session's mutex once the session is running.
type chunk struct {
	index  int
	start  int64 // inclusive
	end    int64 // exclusive
	size   int64
	digest string // hex-encoded SHA-256 of the range

	state   chunkState
	retries int
	data    []byte // payload held while in flight, released on ack
}

// ChunkStatus is a caller-facing snapshot of one chunk, used to inspect which
// chunks failed and how many retries each used.
type ChunkStatus struct {
	Index    int
	Start    int64
	End      int64
	Size     int64
	Digest   string
	Uploaded bool
	Failed   bool
	Retries  int
}

// planChunks splits [0, fileSize) into contiguous fixed-size chunks and
// computes each chunk's digest. Digests are computed in parallel but the
// returned slice is always ordered by index. A zero-length file still yields
// a single empty chunk so the endpoint learns about the file.
func planChunks(r io.ReaderAt, fileSize int64, chunkSize int64) ([]*chunk, error) {
	totalChunks := int((fileSize + chunkSize - 1) / chunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	chunks := make([]*chunk, totalChunks)

	var eg errgroup.Group
	eg.SetLimit(digestParallelism)

	for i := 0; i < totalChunks; i++ {
		eg.Go(func() error {
			start := int64(i) * chunkSize
			end := start + chunkSize
			if end > fileSize {
				end = fileSize
			}

			buf := make([]byte, end-start)
			if len(buf) > 0 {
				if _, err := r.ReadAt(buf, start); err != nil {
					return fmt.Errorf("failed to read chunk %d: %w", i, err)
				}
			}

			chunks[i] = &chunk{
				index:  i,
				start:  start,
				end:    end,
				size:   end - start,
				digest: digest.Bytes(buf),
				state:  chunkPending,
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("Planned chunks", "totalChunks", totalChunks, "fileSize", fileSize, "chunkSize", chunkSize)
	return chunks, nil
}
