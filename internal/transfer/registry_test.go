package transfer

import (
	"testing"

	"github.com/courierfs/courier/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAggregatesAcrossSessions(t *testing.T) {
	fake := transporttest.NewFake()
	fake.FailChunk(0, 4) // first chunk of every session shares index 0; see below
	reg := NewRegistry(fake, Callbacks{})

	// The scripted failure is keyed by chunk index, so give the failing
	// session a distinct index space by submitting it first and letting it
	// consume the script before the healthy ones run.
	failingPath := writeTestFile(t, 512)
	failingID, err := reg.Submit(failingPath, fastOptions(512, 1, 3))
	require.NoError(t, err)
	failing, err := reg.Get(failingID)
	require.NoError(t, err)
	require.Equal(t, StatusError, failing.Wait())

	okPathA := writeTestFile(t, 2*512)
	okPathB := writeTestFile(t, 3*512)
	idA, err := reg.Submit(okPathA, fastOptions(512, 2, 3))
	require.NoError(t, err)
	idB, err := reg.Submit(okPathB, fastOptions(512, 2, 3))
	require.NoError(t, err)

	a, err := reg.Get(idA)
	require.NoError(t, err)
	b, err := reg.Get(idB)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, a.Wait())
	require.Equal(t, StatusCompleted, b.Wait())

	stats := reg.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(6*512), stats.TotalBytes)
	assert.Equal(t, int64(5*512), stats.TransferredBytes)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(transporttest.NewFake(), Callbacks{})
	path := writeTestFile(t, 512)

	id, err := reg.Submit(path, fastOptions(512, 1, 1))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Wait())
	require.Equal(t, 1, reg.Stats().Completed)

	require.NoError(t, reg.Remove(id))
	assert.Zero(t, reg.Stats().Completed)
	_, err = reg.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryRemoveClosesErroredSessionFile(t *testing.T) {
	fake := transporttest.NewFake()
	fake.FailChunk(0, 4)
	reg := NewRegistry(fake, Callbacks{})

	path := writeTestFile(t, 512)
	id, err := reg.Submit(path, fastOptions(512, 1, 3))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusError, s.Wait())

	// The errored session keeps the file open for Retry; removal must
	// release the handle.
	require.NoError(t, reg.Remove(id))
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, s.file, "removed session should release its file handle")
}

func TestRegistryRemoveActiveRejected(t *testing.T) {
	reg := NewRegistry(transporttest.NewFake(), Callbacks{})
	path := writeTestFile(t, 4*512)

	id, err := reg.Submit(path, fastOptions(512, 1, 1))
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)

	// Removing an in-progress session either fails with ErrInvalidState or
	// the session already finished; both are acceptable here.
	if err := reg.Remove(id); err != nil {
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	s.Wait()
}
