package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/courierfs/courier/internal/digest"
	"github.com/courierfs/courier/internal/transport"
	"golang.org/x/sync/semaphore"
)

// Session is the end-to-end transfer state for one file. It owns its chunk
// list, its concurrency limiter and its cancellation context; all mutation
// goes through the session mutex so chunk transitions stay atomic with
// respect to progress and state-machine recomputation.
type Session struct {
	id       string
	path     string
	fileName string
	fileSize int64

	opts        Options
	transporter transport.Transporter
	callbacks   Callbacks
	notify      func()

	ctx    context.Context
	cancel context.CancelFunc
	// sem is created once at session start and shared by every dispatch
	// loop (initial run, resume, retry) so the in-flight bound holds even
	// across overlapping loops. semaphore.Weighted queues waiters FIFO.
	sem *semaphore.Weighted

	mu        sync.Mutex
	cond      *sync.Cond
	file      *os.File
	chunks    []*chunk
	status    Status
	runners   int
	progress  *progressTracker
	startTime time.Time
	// expected is the whole-file digest captured at planning time; the
	// completion check recomputes it from disk and compares.
	expected string
	now      func() time.Time
}

func newSession(id, path string, opts Options, tr transport.Transporter, cb Callbacks, notify func(), now func() time.Time) (*Session, error) {
	opts = opts.withDefaults()

	file, err := os.Open(path) //nolint:gosec // Path is provided by the caller submitting the upload
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck,gosec // Already failing, close error not actionable
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	fileSize := info.Size()

	if opts.MaxFileSize > 0 && fileSize > opts.MaxFileSize {
		file.Close() //nolint:errcheck,gosec // Already failing, close error not actionable
		return nil, fmt.Errorf("%s is %d bytes, limit is %d: %w", path, fileSize, opts.MaxFileSize, ErrFileTooLarge)
	}

	chunks, err := planChunks(file, fileSize, opts.ChunkSize)
	if err != nil {
		file.Close() //nolint:errcheck,gosec // Already failing, close error not actionable
		return nil, err
	}

	expected, err := digest.File(path)
	if err != nil {
		file.Close() //nolint:errcheck,gosec // Already failing, close error not actionable
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:          id,
		path:        path,
		fileName:    filepath.Base(path),
		fileSize:    fileSize,
		opts:        opts,
		transporter: tr,
		callbacks:   cb,
		notify:      notify,
		ctx:         ctx,
		cancel:      cancel,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		file:        file,
		chunks:      chunks,
		status:      StatusUploading,
		expected:    expected,
		now:         now,
	}
	s.cond = sync.NewCond(&s.mu)
	s.startTime = now()
	s.progress = newProgressTracker(fileSize, s.startTime)

	slog.Info("Session created",
		"sessionId", id,
		"fileName", s.fileName,
		"fileSize", fileSize,
		"totalChunks", len(chunks),
		"chunkSize", opts.ChunkSize,
		"maxConcurrent", opts.MaxConcurrent,
	)

	return s, nil
}

func (s *Session) start() {
	s.mu.Lock()
	s.runners++
	s.mu.Unlock()
	go s.run()
}

// run dispatches pending chunks under the semaphore until none remain or the
// session leaves the Uploading state, then waits for in-flight chunks to
// drain and evaluates the final state. The WaitGroup is local to this loop:
// a resume can start a new loop while the old one is still draining, and a
// shared WaitGroup would be reused before its Wait returned.
func (s *Session) run() {
	var wg sync.WaitGroup
	for {
		c, ok := s.nextChunk()
		if !ok {
			break
		}

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.requeue(c)
			break
		}

		// Paused or errored while waiting for a permit.
		if !s.dispatchable() {
			s.sem.Release(1)
			s.requeue(c)
			break
		}

		wg.Add(1)
		go func(c *chunk) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.uploadChunk(c)
		}(c)
	}

	wg.Wait()
	s.finishRun()
}

// nextChunk claims the first pending chunk, marking it in-flight. Returns
// false when nothing is dispatchable.
func (s *Session) nextChunk() (*chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusUploading || s.ctx.Err() != nil {
		return nil, false
	}
	for _, c := range s.chunks {
		if c.state == chunkPending {
			c.state = chunkInFlight
			return c, true
		}
	}
	return nil, false
}

func (s *Session) dispatchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusUploading && s.ctx.Err() == nil
}

// requeue returns a claimed chunk to the pending set, e.g. when dispatch was
// interrupted by pause or cancellation. Retry counts are preserved.
func (s *Session) requeue(c *chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.state == chunkInFlight {
		c.state = chunkPending
		c.data = nil
	}
}

// uploadChunk is the retry controller: it wraps the transporter with a
// bounded retry loop backed by exponential backoff. Each failing chunk backs
// off independently; cancellation stops the loop immediately, including
// during the backoff wait.
func (s *Session) uploadChunk(c *chunk) {
	data, err := s.loadChunk(c)
	if err != nil {
		if s.ctx.Err() != nil {
			s.requeue(c)
			return
		}
		s.markChunkFailed(c, err)
		return
	}

	req := transport.ChunkRequest{
		SessionID:   s.id,
		ChunkIndex:  c.index,
		TotalChunks: len(s.chunks),
		FileName:    s.fileName,
		Data:        data,
		Digest:      c.digest,
	}

	err = retry.Do(
		func() error {
			_, err := s.transporter.Send(s.ctx, req)
			return err
		},
		retry.Context(s.ctx),
		retry.Attempts(uint(s.opts.MaxRetries)+1),
		retry.Delay(s.retryDelay()),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !transport.IsCancellation(err)
		}),
		retry.OnRetry(func(_ uint, err error) {
			s.noteRetry(c, err)
		}),
	)

	switch {
	case err == nil:
		s.markChunkUploaded(c)
	case transport.IsCancellation(err):
		s.requeue(c)
	default:
		s.markChunkFailed(c, err)
	}
}

func (s *Session) loadChunk(c *chunk) ([]byte, error) {
	s.mu.Lock()
	file := s.file
	start, size := c.start, c.size
	s.mu.Unlock()

	if file == nil {
		return nil, errors.New("session file is closed")
	}

	buf := make([]byte, size)
	if size > 0 {
		if _, err := file.ReadAt(buf, start); err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", c.index, err)
		}
	}

	s.mu.Lock()
	c.data = buf
	s.mu.Unlock()
	return buf, nil
}

// noteRetry records a failed attempt and emits a progress event for the
// transition. The retry counter never exceeds MaxRetries.
func (s *Session) noteRetry(c *chunk, err error) {
	s.mu.Lock()
	// retry-go reports the final failed attempt here too; only attempts that
	// are actually retried consume the budget.
	if c.retries < s.opts.MaxRetries {
		c.retries++
	}
	retries := c.retries
	s.emitProgressLocked()
	s.mu.Unlock()
	s.notify()

	slog.Warn("Chunk attempt failed, backing off",
		"sessionId", s.id,
		"chunkIndex", c.index,
		"retries", retries,
		"maxRetries", s.opts.MaxRetries,
		"error", err,
	)
}

func (s *Session) markChunkUploaded(c *chunk) {
	s.mu.Lock()
	c.state = chunkUploaded
	c.data = nil
	s.progress.addChunk(c.size)
	s.emitProgressLocked()
	s.mu.Unlock()
	s.notify()

	slog.Debug("Chunk uploaded", "sessionId", s.id, "chunkIndex", c.index, "size", c.size)
}

// markChunkFailed records a retry-budget exhaustion. The session state
// machine moves to Error, which also stops new chunk dispatch.
func (s *Session) markChunkFailed(c *chunk, err error) {
	s.mu.Lock()
	if s.status == StatusCancelled {
		s.mu.Unlock()
		return
	}
	c.state = chunkFailed
	c.data = nil
	s.status = StatusError
	report := ErrorReport{
		SessionID:  s.id,
		FileName:   s.fileName,
		Message:    err.Error(),
		ChunkIndex: c.index,
		RetryCount: c.retries,
	}
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(report)
	}
	s.emitProgressLocked()
	s.mu.Unlock()
	s.notify()

	slog.Error("Chunk permanently failed",
		"sessionId", s.id,
		"chunkIndex", c.index,
		"retries", report.RetryCount,
		"error", err,
	)
}

// finishRun evaluates the session state once a dispatch loop has drained.
func (s *Session) finishRun() {
	s.mu.Lock()

	s.runners--

	if s.status == StatusCancelled || s.status == StatusCompleted {
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}

	if s.status == StatusError || s.status == StatusPaused {
		s.cond.Broadcast()
		s.mu.Unlock()
		s.notify()
		return
	}

	if !s.allUploadedLocked() {
		// Dispatch stopped without pause, cancel or failure; nothing to do.
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}

	// Every chunk acknowledged: run the independent end-to-end check over the
	// original file bytes. This is deliberately separate from the per-chunk
	// digests and is deterministic regardless of upload order.
	path, expected := s.path, s.expected
	s.mu.Unlock()

	actual, err := digest.File(path)

	s.mu.Lock()
	if s.status != StatusUploading {
		// Cancelled (or already finalized by an overlapping loop) while hashing.
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}

	if err == nil && actual != expected {
		err = &IntegrityError{FileName: s.fileName, Expected: expected, Actual: actual}
	}
	if err != nil {
		s.status = StatusError
		report := ErrorReport{
			SessionID:  s.id,
			FileName:   s.fileName,
			Message:    err.Error(),
			ChunkIndex: -1,
		}
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(report)
		}
		s.cond.Broadcast()
		s.mu.Unlock()
		s.notify()

		slog.Error("Whole-file integrity check failed", "sessionId", s.id, "error", err)
		return
	}

	s.status = StatusCompleted
	s.closeFileLocked()
	report := CompletionReport{
		SessionID:  s.id,
		FileName:   s.fileName,
		Size:       s.fileSize,
		ChunkCount: len(s.chunks),
		Digest:     actual,
		Duration:   s.now().Sub(s.startTime),
	}
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(report)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	s.notify()

	slog.Info("Session completed",
		"sessionId", s.id,
		"fileName", report.FileName,
		"size", report.Size,
		"chunks", report.ChunkCount,
		"duration", report.Duration,
	)
}

// Pause stops new chunk dispatch. Chunks already in flight finish normally.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.status != StatusUploading {
		s.mu.Unlock()
		return fmt.Errorf("cannot pause session in state %s: %w", s.status, ErrInvalidState)
	}
	s.status = StatusPaused
	s.mu.Unlock()
	s.notify()

	slog.Info("Session paused", "sessionId", s.id)
	return nil
}

// Resume re-enters the dispatch loop for chunks not yet uploaded. Chunks
// already acknowledged are never re-sent.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.status != StatusPaused {
		s.mu.Unlock()
		return fmt.Errorf("cannot resume session in state %s: %w", s.status, ErrInvalidState)
	}
	s.status = StatusUploading
	s.runners++
	s.mu.Unlock()
	s.notify()

	go s.run()

	slog.Info("Session resumed", "sessionId", s.id)
	return nil
}

// Retry recovers a session from the Error state: failed chunks return to
// pending with their retry counters reset, and dispatch restarts.
func (s *Session) Retry() error {
	s.mu.Lock()
	if s.status != StatusError {
		s.mu.Unlock()
		return fmt.Errorf("cannot retry session in state %s: %w", s.status, ErrInvalidState)
	}
	reset := 0
	for _, c := range s.chunks {
		if c.state == chunkFailed {
			c.state = chunkPending
			c.retries = 0
			reset++
		}
	}
	s.status = StatusUploading
	s.runners++
	s.mu.Unlock()
	s.notify()

	go s.run()

	slog.Info("Session retrying failed chunks", "sessionId", s.id, "resetChunks", reset)
	return nil
}

// Cancel aborts the session: in-flight transfers observe the context
// cancellation and stop promptly, held payloads are released, and no
// further events fire.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.status == StatusCompleted || s.status == StatusCancelled {
		s.mu.Unlock()
		return fmt.Errorf("session already finished: %w", ErrInvalidState)
	}
	s.status = StatusCancelled
	for _, c := range s.chunks {
		c.data = nil
	}
	s.closeFileLocked()
	s.cancel()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.notify()

	slog.Info("Session cancelled", "sessionId", s.id)
	return nil
}

// Wait blocks until the session reaches Completed, Error or Cancelled and
// all in-flight work has drained, then returns the final status. A paused
// session keeps Wait blocked until it is resumed or cancelled.
func (s *Session) Wait() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.settledLocked() {
		s.cond.Wait()
	}
	return s.status
}

func (s *Session) settledLocked() bool {
	switch s.status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusError:
		return s.runners == 0
	default:
		return false
	}
}

func (s *Session) allUploadedLocked() bool {
	for _, c := range s.chunks {
		if c.state != chunkUploaded {
			return false
		}
	}
	return true
}

// closeFile releases the file handle of a session leaving the registry. An
// errored session keeps the file open for Retry, so Remove must close it.
func (s *Session) closeFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFileLocked()
}

func (s *Session) closeFileLocked() {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			slog.Warn("Failed to close session file", "sessionId", s.id, "error", err)
		}
		s.file = nil
	}
}

// emitProgressLocked builds and delivers a progress report. Caller holds s.mu.
func (s *Session) emitProgressLocked() {
	if s.status == StatusCancelled || s.callbacks.OnProgress == nil {
		return
	}
	percent, speed, eta := s.progress.snapshot(s.now())
	s.callbacks.OnProgress(ProgressReport{
		SessionID:      s.id,
		FileName:       s.fileName,
		UploadedBytes:  s.progress.uploadedBytes,
		TotalBytes:     s.fileSize,
		Percent:        percent,
		Speed:          speed,
		ETA:            eta,
		ChunksUploaded: s.progress.chunksDone,
		TotalChunks:    len(s.chunks),
	})
}

func (s *Session) retryDelay() time.Duration {
	if s.opts.retryBaseDelay > 0 {
		return s.opts.retryBaseDelay
	}
	return initialRetryDelay
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// FileName returns the base name of the file being uploaded.
func (s *Session) FileName() string { return s.fileName }

// Size returns the file's byte length.
func (s *Session) Size() int64 { return s.fileSize }

// TotalChunks returns the planned chunk count.
func (s *Session) TotalChunks() int {
	return len(s.chunks)
}

// Status returns the session's current aggregate status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UploadedBytes returns the cumulative bytes acknowledged so far.
func (s *Session) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.uploadedBytes
}

// Progress returns a point-in-time progress report.
func (s *Session) Progress() ProgressReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	percent, speed, eta := s.progress.snapshot(s.now())
	return ProgressReport{
		SessionID:      s.id,
		FileName:       s.fileName,
		UploadedBytes:  s.progress.uploadedBytes,
		TotalBytes:     s.fileSize,
		Percent:        percent,
		Speed:          speed,
		ETA:            eta,
		ChunksUploaded: s.progress.chunksDone,
		TotalChunks:    len(s.chunks),
	}
}

// ChunkStatuses returns a snapshot of every chunk, so a failed session stays
// inspectable (which chunks failed, how many retries each used).
func (s *Session) ChunkStatuses() []ChunkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChunkStatus, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = ChunkStatus{
			Index:    c.index,
			Start:    c.start,
			End:      c.end,
			Size:     c.size,
			Digest:   c.digest,
			Uploaded: c.state == chunkUploaded,
			Failed:   c.state == chunkFailed,
			Retries:  c.retries,
		}
	}
	return out
}
