package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("nested"), 0600))
}

func TestCreateAndExtractArchiveRoundTrips(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)

	archivePath := filepath.Join(t.TempDir(), "out.snapshot")
	require.NoError(t, createArchive(src, archivePath))

	dest := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, extractArchive(archivePath, dest))

	top, err := os.ReadFile(filepath.Join(dest, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))

	nested, err := os.ReadFile(filepath.Join(dest, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(nested))
}

func TestLoadSnapshotExtractsWhenDBMissing(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)
	archivePath := filepath.Join(t.TempDir(), "out.snapshot")
	require.NoError(t, createArchive(src, archivePath))

	dbPath := filepath.Join(t.TempDir(), "db")
	err := LoadSnapshot(dbPath, archivePath, false, false)
	require.NoError(t, err)

	top, err := os.ReadFile(filepath.Join(dbPath, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))
}

func TestLoadSnapshotFailsWhenDBExistsAndNotIgnored(t *testing.T) {
	dbPath := t.TempDir()
	err := LoadSnapshot(dbPath, filepath.Join(t.TempDir(), "missing.snapshot"), false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestLoadSnapshotIsNoopWhenDBExistsAndIgnored(t *testing.T) {
	dbPath := t.TempDir()
	err := LoadSnapshot(dbPath, filepath.Join(t.TempDir(), "missing.snapshot"), true, true)
	require.NoError(t, err)
}

func TestLoadSnapshotFailsWhenSnapMissingAndNotIgnored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "does-not-exist")
	err := LoadSnapshot(dbPath, filepath.Join(t.TempDir(), "missing.snapshot"), false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
