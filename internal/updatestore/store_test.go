package updatestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, ftypes.NewIndexId())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSubmitAndGet(t *testing.T) {
	store := newTestStore(t)

	id, err := store.NextUpdateID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	path, err := store.WritePayload(id, strings.NewReader(`[{"id":"1"}]`))
	require.NoError(t, err)

	job, err := store.Submit(id, ftypes.JobMeta{Kind: ftypes.JobAddDocuments, Format: ftypes.FormatJSON}, path)
	require.NoError(t, err)
	assert.Equal(t, ftypes.StateEnqueued, job.State)

	fetched, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.UpdateID, fetched.UpdateID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(data))
}

func TestNextUpdateIDIncrements(t *testing.T) {
	store := newTestStore(t)

	id1, err := store.NextUpdateID()
	require.NoError(t, err)
	_, err = store.Submit(id1, ftypes.JobMeta{Kind: ftypes.JobClearDocuments}, "")
	require.NoError(t, err)

	id2, err := store.NextUpdateID()
	require.NoError(t, err)
	assert.Equal(t, id1+1, id2)
}

func TestNextEnqueuedReturnsLowest(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		id, err := store.NextUpdateID()
		require.NoError(t, err)
		_, err = store.Submit(id, ftypes.JobMeta{Kind: ftypes.JobClearDocuments}, "")
		require.NoError(t, err)
	}

	job, err := store.NextEnqueued()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(1), job.UpdateID)
}

func TestFinishDeletesPayload(t *testing.T) {
	store := newTestStore(t)

	id, err := store.NextUpdateID()
	require.NoError(t, err)
	path, err := store.WritePayload(id, strings.NewReader("data"))
	require.NoError(t, err)
	_, err = store.Submit(id, ftypes.JobMeta{Kind: ftypes.JobAddDocuments}, path)
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessing(id))
	require.NoError(t, store.Finish(id, ftypes.StateProcessed, &ftypes.UpdateResult{IndexedDocuments: 1}, ""))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	job, err := store.Get(id)
	require.NoError(t, err)
	assert.True(t, job.Terminal())
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.IndexedDocuments)
}

func TestRecoverProcessingReEnqueues(t *testing.T) {
	store := newTestStore(t)

	id, err := store.NextUpdateID()
	require.NoError(t, err)
	_, err = store.Submit(id, ftypes.JobMeta{Kind: ftypes.JobClearDocuments}, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessing(id))

	recovered, err := store.RecoverProcessing()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, ftypes.StateEnqueued, recovered[0].State)

	job, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, ftypes.StateEnqueued, job.State)
}

func TestSnapshotCopiesNonTerminalPayloads(t *testing.T) {
	store := newTestStore(t)

	id, err := store.NextUpdateID()
	require.NoError(t, err)
	path, err := store.WritePayload(id, strings.NewReader("pending-data"))
	require.NoError(t, err)
	_, err = store.Submit(id, ftypes.JobMeta{Kind: ftypes.JobAddDocuments}, path)
	require.NoError(t, err)

	snapDir := t.TempDir()
	require.NoError(t, store.Snapshot(snapDir))

	_, err = os.Stat(filepath.Join(snapDir, "jobs.db"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(snapDir, "payloads", filepath.Base(path)))
	require.NoError(t, err)
}
