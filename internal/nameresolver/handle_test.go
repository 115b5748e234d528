package nameresolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/8fs-io/ftsd/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) (*Handle, *Store) {
	t.Helper()
	store := newTestStore(t)
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, store, log, 64)
	t.Cleanup(cancel)
	return h, store
}

func TestHandleCreateAndResolve(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	binding, err := h.Create(ctx, "movies")
	require.NoError(t, err)

	resolved, err := h.Resolve(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, binding.ID, resolved.ID)
}

func TestHandleGetOrCreate(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	_, created, err := h.GetOrCreate(ctx, "books")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = h.GetOrCreate(ctx, "books")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestHandleSerializesConcurrentCreates(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, _, err := h.GetOrCreate(ctx, "shared")
			results <- err
		}()
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, <-results)
	}

	bindings, err := h.List(ctx)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)
}

func TestHandleSnapshot(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Create(ctx, "movies")
	require.NoError(t, err)

	snapDir := t.TempDir()
	require.NoError(t, h.Snapshot(ctx, snapDir))

	copied, err := OpenStore(filepath.Join(snapDir, "names.db"))
	require.NoError(t, err)
	defer copied.Close()
}
