package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	bindings []ftypes.NameBinding
}

func (f *fakeResolver) Snapshot(ctx context.Context, dir string) error {
	return os.MkdirAll(dir, 0700)
}

func (f *fakeResolver) List(ctx context.Context) ([]ftypes.NameBinding, error) {
	return f.bindings, nil
}

type fakeIndexSnapshotter struct {
	fail bool
}

func (f *fakeIndexSnapshotter) Snapshot(ctx context.Context, dir string) error {
	if f.fail {
		return assertError("snapshot failed")
	}
	return os.MkdirAll(dir, 0700)
}

type fakeUpdateStores struct {
	stores map[ftypes.IndexId]IndexSnapshotter
}

func (f *fakeUpdateStores) Get(id ftypes.IndexId) (IndexSnapshotter, bool) {
	s, ok := f.stores[id]
	return s, ok
}

type fakeIndexWorker struct {
	fail bool
}

func (f *fakeIndexWorker) Snapshot(ctx context.Context, indexID ftypes.IndexId, dir string) error {
	if f.fail {
		return assertError("engine snapshot failed")
	}
	return os.MkdirAll(dir, 0700)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func newTestCoordinator(t *testing.T, resolver Resolver, stores UpdateStores, worker IndexWorker) (*Coordinator, string) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	dir := t.TempDir()
	c := New(Config{Dir: dir, DBName: "ftsd", Period: time.Hour}, resolver, stores, worker, nil, log)
	return c, dir
}

func TestRunOnceProducesArchive(t *testing.T) {
	id := ftypes.NewIndexId()
	resolver := &fakeResolver{bindings: []ftypes.NameBinding{{Name: "movies", ID: id}}}
	stores := &fakeUpdateStores{stores: map[ftypes.IndexId]IndexSnapshotter{id: &fakeIndexSnapshotter{}}}
	worker := &fakeIndexWorker{}

	c, dir := newTestCoordinator(t, resolver, stores, worker)
	require.NoError(t, c.runOnce(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "ftsd.snapshot"))
	require.NoError(t, err)
}

func TestRunOnceSkipsWhenNoIndexesExist(t *testing.T) {
	resolver := &fakeResolver{}
	stores := &fakeUpdateStores{stores: map[ftypes.IndexId]IndexSnapshotter{}}
	worker := &fakeIndexWorker{}

	c, dir := newTestCoordinator(t, resolver, stores, worker)
	require.NoError(t, c.runOnce(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "ftsd.snapshot"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunOnceFailsWithoutProducingArchiveWhenOneIndexFails(t *testing.T) {
	okID := ftypes.NewIndexId()
	failID := ftypes.NewIndexId()
	resolver := &fakeResolver{bindings: []ftypes.NameBinding{{Name: "ok", ID: okID}, {Name: "bad", ID: failID}}}
	stores := &fakeUpdateStores{stores: map[ftypes.IndexId]IndexSnapshotter{
		okID:   &fakeIndexSnapshotter{},
		failID: &fakeIndexSnapshotter{fail: true},
	}}
	worker := &fakeIndexWorker{}

	c, dir := newTestCoordinator(t, resolver, stores, worker)
	err := c.runOnce(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "ftsd.snapshot"))
	assert.True(t, os.IsNotExist(statErr))
}
