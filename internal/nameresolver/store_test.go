package nameresolver

import (
	"path/filepath"
	"testing"

	apperrors "github.com/8fs-io/ftsd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "names.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndResolve(t *testing.T) {
	store := newTestStore(t)

	binding, err := store.Create("movies")
	require.NoError(t, err)
	assert.Equal(t, "movies", binding.Name)

	resolved, err := store.Resolve("movies")
	require.NoError(t, err)
	assert.Equal(t, binding.ID, resolved.ID)
}

func TestCreateDuplicateFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("movies")
	require.NoError(t, err)

	_, err = store.Create("movies")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAlreadyExists))
}

func TestResolveMissingFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeNotFound))
}

func TestGetOrCreate(t *testing.T) {
	store := newTestStore(t)

	binding, created, err := store.GetOrCreate("books")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.GetOrCreate("books")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, binding.ID, again.ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("movies")
	require.NoError(t, err)

	require.NoError(t, store.Delete("movies"))
	require.NoError(t, store.Delete("movies"))

	_, err = store.Resolve("movies")
	assert.Error(t, err)
}

func TestRename(t *testing.T) {
	store := newTestStore(t)

	original, err := store.Create("movies")
	require.NoError(t, err)

	renamed, err := store.Rename("movies", "films")
	require.NoError(t, err)
	assert.Equal(t, original.ID, renamed.ID)

	_, err = store.Resolve("movies")
	assert.Error(t, err)

	resolved, err := store.Resolve("films")
	require.NoError(t, err)
	assert.Equal(t, original.ID, resolved.ID)
}

func TestRenameCollisionFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("movies")
	require.NoError(t, err)
	_, err = store.Create("films")
	require.NoError(t, err)

	_, err = store.Rename("movies", "films")
	assert.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAlreadyExists))
}

func TestListOrdering(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"zebra", "apple", "mango"} {
		_, err := store.Create(name)
		require.NoError(t, err)
	}

	bindings, err := store.List()
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, []string{bindings[0].Name, bindings[1].Name, bindings[2].Name})
}

func TestSnapshot(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("movies")
	require.NoError(t, err)

	snapDir := t.TempDir()
	require.NoError(t, store.Snapshot(snapDir))

	copied, err := OpenStore(filepath.Join(snapDir, "names.db"))
	require.NoError(t, err)
	defer copied.Close()

	resolved, err := copied.Resolve("movies")
	require.NoError(t, err)
	assert.Equal(t, "movies", resolved.Name)
}
