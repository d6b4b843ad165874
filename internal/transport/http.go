package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const defaultSendTimeout = 5 * time.Minute

// Header names of the chunk wire contract. The session id and chunk index
// travel in the URL path; everything else rides in headers.
const (
	headerTotalChunks = "X-Courier-Total-Chunks"
	headerFileName    = "X-Courier-File-Name"
	headerDigest      = "X-Courier-Digest"
)

// HTTPTransporter sends chunks to a courier endpoint over HTTP.
type HTTPTransporter struct {
	endpoint   string
	httpClient *http.Client
}

var _ Transporter = (*HTTPTransporter)(nil)

// NewHTTP creates a transporter pushing chunks to the given base endpoint URL.
func NewHTTP(endpoint string) *HTTPTransporter {
	return &HTTPTransporter{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: defaultSendTimeout,
		},
	}
}

// Send uploads one chunk and awaits the endpoint's acknowledgement.
func (t *HTTPTransporter) Send(ctx context.Context, req ChunkRequest) (Ack, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/chunks/%d", t.endpoint, req.SessionID, req.ChunkIndex)

	slog.Debug("Sending chunk",
		"sessionId", req.SessionID,
		"chunkIndex", req.ChunkIndex,
		"size", len(req.Data),
		"url", url,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Data))
	if err != nil {
		return Ack{}, &Error{Message: fmt.Sprintf("failed to create chunk request: %v", err)}
	}

	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(headerTotalChunks, strconv.Itoa(req.TotalChunks))
	httpReq.Header.Set(headerFileName, req.FileName)
	httpReq.Header.Set(headerDigest, req.Digest)
	httpReq.ContentLength = int64(len(req.Data))

	startTime := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		// Cancellation is not a transport fault; surface it as the context error
		// so callers stop retrying immediately.
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Debug("Chunk send cancelled",
				"sessionId", req.SessionID,
				"chunkIndex", req.ChunkIndex,
				"duration", duration,
			)
			return Ack{}, ctxErr
		}
		slog.Warn("Chunk send failed",
			"error", err,
			"sessionId", req.SessionID,
			"chunkIndex", req.ChunkIndex,
			"duration", duration,
		)
		return Ack{}, &Error{Message: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ack{}, &Error{Status: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		slog.Warn("Chunk rejected",
			"statusCode", resp.StatusCode,
			"message", msg,
			"sessionId", req.SessionID,
			"chunkIndex", req.ChunkIndex,
			"duration", duration,
		)
		return Ack{}, &Error{Status: resp.StatusCode, Message: msg}
	}

	slog.Debug("Chunk accepted",
		"sessionId", req.SessionID,
		"chunkIndex", req.ChunkIndex,
		"statusCode", resp.StatusCode,
		"duration", duration,
	)

	ack := Ack{OK: true}
	if len(body) > 0 {
		// Best-effort parse; an empty or non-JSON body still counts as success.
		var ackResp struct {
			OK      *bool  `json:"ok"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &ackResp); err == nil {
			if ackResp.OK != nil {
				ack.OK = *ackResp.OK
			}
			ack.Message = ackResp.Message
		}
	}
	if !ack.OK {
		return Ack{}, &Error{Status: resp.StatusCode, Message: ack.Message}
	}

	return ack, nil
}

// IsCancellation reports whether err stems from context cancellation rather
// than a transport fault.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
