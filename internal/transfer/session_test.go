package transfer

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/courierfs/courier/internal/digest"
	"github.com/courierfs/courier/internal/transport"
	"github.com/courierfs/courier/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 10 * time.Second

// recorder captures the callback surface for assertions.
type recorder struct {
	mu        sync.Mutex
	progress  []ProgressReport
	completes []CompletionReport
	errors    []ErrorReport
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p ProgressReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, p)
		},
		OnComplete: func(c CompletionReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes = append(r.completes, c)
		},
		OnError: func(e ErrorReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, e)
		},
	}
}

func (r *recorder) completions() []CompletionReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CompletionReport(nil), r.completes...)
}

func (r *recorder) errorReports() []ErrorReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorReport(nil), r.errors...)
}

func (r *recorder) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

func (r *recorder) lastProgress() (ProgressReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.progress) == 0 {
		return ProgressReport{}, false
	}
	return r.progress[len(r.progress)-1], true
}

func writeTestFile(t *testing.T, size int64) string {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func fastOptions(chunkSize int64, maxConcurrent, maxRetries int) Options {
	return Options{
		ChunkSize:      chunkSize,
		MaxConcurrent:  maxConcurrent,
		MaxRetries:     maxRetries,
		retryBaseDelay: time.Millisecond,
	}
}

func TestUploadCompletes(t *testing.T) {
	// 10 chunks of 1024 bytes, at most 3 in flight.
	path := writeTestFile(t, 10*1024)
	fake := transporttest.NewFake()
	fake.Delay = func(ctx context.Context, _ transport.ChunkRequest) {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(1024, 3, 3))
	require.NoError(t, err)

	s, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 10, s.TotalChunks())

	require.Equal(t, StatusCompleted, s.Wait())

	// Concurrency bound held throughout.
	assert.LessOrEqual(t, fake.MaxInFlight(), 3)
	assert.Equal(t, 10, fake.SendCount())
	assert.Equal(t, int64(10*1024), fake.BytesAccepted())
	assert.Equal(t, int64(10*1024), s.UploadedBytes())

	// Exactly one completion, with the whole-file digest.
	completes := rec.completions()
	require.Len(t, completes, 1)
	wantDigest, err := digest.File(path)
	require.NoError(t, err)
	assert.Equal(t, wantDigest, completes[0].Digest)
	assert.Equal(t, int64(10*1024), completes[0].Size)
	assert.Equal(t, 10, completes[0].ChunkCount)
	assert.Equal(t, "payload.bin", completes[0].FileName)

	last, ok := rec.lastProgress()
	require.True(t, ok)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
	assert.Equal(t, 10, last.ChunksUploaded)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(10*1024), stats.TransferredBytes)
}

func TestChunkRequestWireFields(t *testing.T) {
	path := writeTestFile(t, 3*512)
	fake := transporttest.NewFake()
	reg := NewRegistry(fake, Callbacks{})

	id, err := reg.Submit(path, fastOptions(512, 2, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Wait())

	for _, cs := range s.ChunkStatuses() {
		assert.Equal(t, 1, fake.SendsFor(cs.Index))
	}
	assert.Equal(t, id, s.ID())
}

func TestChunkRetriesThenSucceeds(t *testing.T) {
	path := writeTestFile(t, 10*256)
	fake := transporttest.NewFake()
	fake.FailChunk(4, 2) // fails twice, succeeds on the third attempt
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(256, 3, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Wait())
	assert.Equal(t, 3, fake.SendsFor(4))

	statuses := s.ChunkStatuses()
	assert.Equal(t, 2, statuses[4].Retries)
	assert.True(t, statuses[4].Uploaded)
	assert.Empty(t, rec.errorReports())
}

func TestChunkExhaustsRetryBudget(t *testing.T) {
	path := writeTestFile(t, 10*256)
	fake := transporttest.NewFake()
	fake.FailChunk(7, 4) // maxRetries=3 allows 4 attempts total; all fail
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(256, 3, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	require.Equal(t, StatusError, s.Wait())

	// Chunk 7 is the sole permanently failed chunk and stays inspectable.
	statuses := s.ChunkStatuses()
	failed := 0
	for _, cs := range statuses {
		if cs.Failed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.True(t, statuses[7].Failed)
	assert.Equal(t, 3, statuses[7].Retries)
	assert.False(t, statuses[7].Uploaded)
	assert.Equal(t, 4, fake.SendsFor(7))

	reports := rec.errorReports()
	require.NotEmpty(t, reports)
	assert.Equal(t, 7, reports[0].ChunkIndex)
	assert.Equal(t, 3, reports[0].RetryCount)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Failed)

	// Explicit retry resets chunk 7 (the failure script is consumed) and the
	// session completes without re-uploading acknowledged chunks.
	require.NoError(t, reg.Retry(id))
	require.Equal(t, StatusCompleted, s.Wait())

	statuses = s.ChunkStatuses()
	assert.True(t, statuses[7].Uploaded)
	assert.Equal(t, 0, statuses[7].Retries)
	require.Len(t, rec.completions(), 1)
	assert.Equal(t, int64(10*256), s.UploadedBytes())
}

func TestPauseStopsDispatchAndResumeIsIdempotent(t *testing.T) {
	path := writeTestFile(t, 8*512)
	gate := make(chan struct{})
	fake := transporttest.NewFake()
	fake.Delay = func(ctx context.Context, _ transport.ChunkRequest) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(512, 2, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	// Wait until the first chunks are held in flight, then pause.
	require.Eventually(t, func() bool { return fake.SendCount() >= 2 }, waitTimeout, time.Millisecond)
	require.NoError(t, reg.Pause(id))
	assert.Equal(t, StatusPaused, s.Status())

	// Double pause is rejected.
	assert.ErrorIs(t, reg.Pause(id), ErrInvalidState)

	// Release the in-flight chunks; they are allowed to finish, but no new
	// chunk is dispatched while paused.
	close(gate)
	require.Eventually(t, func() bool {
		return s.UploadedBytes() == 2*512
	}, waitTimeout, time.Millisecond)
	sendsWhilePaused := fake.SendCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sendsWhilePaused, fake.SendCount())

	require.NoError(t, reg.Resume(id))
	require.Equal(t, StatusCompleted, s.Wait())

	// Idempotent resume: every chunk was sent exactly once.
	assert.Equal(t, 8, fake.SendCount())
	for i := 0; i < 8; i++ {
		assert.Equal(t, 1, fake.SendsFor(i))
	}
	require.Len(t, rec.completions(), 1)
}

// Rapid pause/resume overlaps dispatch loops: a resumed loop starts while
// the previous loop is still draining its in-flight chunks. Run with -race;
// a WaitGroup shared across loops would be reused before Wait returned.
func TestRapidPauseResumeCycles(t *testing.T) {
	path := writeTestFile(t, 256*256)
	fake := transporttest.NewFake()
	fake.Delay = func(ctx context.Context, _ transport.ChunkRequest) {
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
		}
	}
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(256, 3, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		if err := reg.Pause(id); err != nil {
			break // completed under our feet
		}
		if err := reg.Resume(id); err != nil {
			break
		}
	}

	require.Equal(t, StatusCompleted, s.Wait())

	// Chunks held in flight across a pause finish and are never re-sent, so
	// every byte is acknowledged exactly once despite the loop churn.
	assert.Equal(t, int64(256*256), fake.BytesAccepted())
	assert.LessOrEqual(t, fake.MaxInFlight(), 3)
	require.Len(t, rec.completions(), 1)
}

func TestCancelHaltsWorkAndSuppressesEvents(t *testing.T) {
	path := writeTestFile(t, 8*512)
	fake := transporttest.NewFake()
	fake.Delay = func(ctx context.Context, _ transport.ChunkRequest) {
		select {
		case <-ctx.Done():
		case <-time.After(waitTimeout):
		}
	}
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(512, 2, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fake.SendCount() >= 2 }, waitTimeout, time.Millisecond)
	require.NoError(t, reg.Cancel(id))

	assert.Equal(t, StatusCancelled, s.Wait())
	assert.ErrorIs(t, reg.Pause(id), ErrSessionNotFound)

	// In-flight transporters observed the cancellation; no further dispatch.
	sends := fake.SendCount()
	progressEvents := rec.progressCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sends, fake.SendCount())
	assert.Equal(t, progressEvents, rec.progressCount())
	assert.Empty(t, rec.completions())

	stats := reg.Stats()
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Completed)
}

func TestCancelTwiceFails(t *testing.T) {
	path := writeTestFile(t, 512)
	fake := transporttest.NewFake()
	reg := NewRegistry(fake, Callbacks{})

	id, err := reg.Submit(path, fastOptions(512, 1, 1))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	if err := s.Cancel(); err != nil {
		// The session may have completed before the cancel landed.
		require.ErrorIs(t, err, ErrInvalidState)
		return
	}
	assert.ErrorIs(t, s.Cancel(), ErrInvalidState)
}

func TestFileTooLarge(t *testing.T) {
	path := writeTestFile(t, 4096)
	fake := transporttest.NewFake()
	reg := NewRegistry(fake, Callbacks{})

	opts := fastOptions(1024, 3, 3)
	opts.MaxFileSize = 1024
	_, err := reg.Submit(path, opts)
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Zero(t, fake.SendCount())
	assert.Zero(t, reg.Stats().Active)
}

func TestMissingFile(t *testing.T) {
	reg := NewRegistry(transporttest.NewFake(), Callbacks{})
	_, err := reg.Submit(filepath.Join(t.TempDir(), "missing.bin"), Options{})
	assert.Error(t, err)
}

func TestIntegrityMismatchIsFatal(t *testing.T) {
	path := writeTestFile(t, 4*512)
	gate := make(chan struct{})
	fake := transporttest.NewFake()
	fake.Delay = func(ctx context.Context, _ transport.ChunkRequest) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(512, 1, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fake.SendCount() >= 1 }, waitTimeout, time.Millisecond)
	require.NoError(t, reg.Pause(id))
	close(gate)
	require.Eventually(t, func() bool { return s.UploadedBytes() >= 512 }, waitTimeout, time.Millisecond)

	// Mutate the file under the session while paused; the end-to-end check
	// must catch what the per-chunk digests cannot.
	mutated := make([]byte, 4*512)
	_, err = rand.Read(mutated)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, mutated, 0o644))

	require.NoError(t, reg.Resume(id))
	require.Equal(t, StatusError, s.Wait())

	reports := rec.errorReports()
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, -1, last.ChunkIndex)
	assert.Contains(t, last.Message, "integrity")
	assert.Empty(t, rec.completions())
}

func TestEmptyFileUploads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	fake := transporttest.NewFake()
	rec := &recorder{}
	reg := NewRegistry(fake, rec.callbacks())

	id, err := reg.Submit(path, fastOptions(1024, 3, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Wait())
	assert.Equal(t, 1, fake.SendCount())
	require.Len(t, rec.completions(), 1)
	assert.Zero(t, rec.completions()[0].Size)
}

func TestInvalidStateTransitions(t *testing.T) {
	path := writeTestFile(t, 512)
	reg := NewRegistry(transporttest.NewFake(), Callbacks{})

	id, err := reg.Submit(path, fastOptions(512, 1, 1))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Wait())

	assert.ErrorIs(t, reg.Pause(id), ErrInvalidState)
	assert.ErrorIs(t, reg.Resume(id), ErrInvalidState)
	assert.ErrorIs(t, reg.Retry(id), ErrInvalidState)
}

func TestUnknownSessionID(t *testing.T) {
	reg := NewRegistry(transporttest.NewFake(), Callbacks{})
	assert.ErrorIs(t, reg.Pause("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, reg.Resume("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, reg.Cancel("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, reg.Retry("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, reg.Remove("nope"), ErrSessionNotFound)
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestErrorTaxonomy(t *testing.T) {
	terr := &transport.Error{Status: 503, Message: "busy"}
	assert.False(t, transport.IsCancellation(terr))
	assert.True(t, transport.IsCancellation(context.Canceled))

	var ierr *IntegrityError
	err := error(&IntegrityError{FileName: "a", Expected: "x", Actual: "y"})
	assert.True(t, errors.As(err, &ierr))
	assert.Contains(t, err.Error(), "integrity check failed")
}
