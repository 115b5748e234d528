package bleveengine

import (
	"path/filepath"
	"testing"

	"github.com/8fs-io/ftsd/internal/engine"
	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "idx")
	e, err := Open(dir, ftypes.IndexSettings{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestIndexAndGet(t *testing.T) {
	e := newTestEngine(t)

	doc := ftypes.Document{"id": "1", "title": "the great gatsby"}
	require.NoError(t, e.Index("1", doc))

	got, err := e.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "the great gatsby", got["title"])
}

func TestDeleteIsNoopForMissing(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.Delete("missing"))
}

func TestSearchFindsIndexedDocument(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "the great gatsby"}))
	require.NoError(t, e.Index("2", ftypes.Document{"id": "2", "title": "moby dick"}))

	res, err := e.Search(engine.SearchRequest{Query: "gatsby", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "1", res.Hits[0].ID)
}

func TestDocumentCount(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1"}))
	require.NoError(t, e.Index("2", ftypes.Document{"id": "2"}))

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClearRemovesDocumentsButKeepsIndexUsable(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1"}))
	require.NoError(t, e.Clear())

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, e.Index("2", ftypes.Document{"id": "2"}))
	count, err = e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshotCopiesIndexDirectory(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "dune"}))

	dest := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, e.Snapshot(dest))

	copied, err := Open(dest, ftypes.IndexSettings{})
	require.NoError(t, err)
	defer copied.Close()

	got, err := copied.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "dune", got["title"])
}

func TestApplySettingsPreservesDocuments(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "dune"}))

	require.NoError(t, e.ApplySettings(ftypes.IndexSettings{SearchableFields: []string{"title"}}))

	got, err := e.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "dune", got["title"])
}

func TestDocumentsListsInIDOrder(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("2", ftypes.Document{"id": "2", "title": "moby dick"}))
	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "dune"}))

	docs, total, err := e.Documents(0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, docs, 2)
	assert.Equal(t, "dune", docs[0]["title"])
	assert.Equal(t, "moby dick", docs[1]["title"])
}

func TestFieldsDistributionCountsFieldOccurrences(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "dune", "year": 1965}))
	require.NoError(t, e.Index("2", ftypes.Document{"id": "2", "title": "moby dick"}))

	dist, err := e.FieldsDistribution()
	require.NoError(t, err)
	assert.Equal(t, 2, dist["title"])
	assert.Equal(t, 1, dist["year"])
}

func TestSearchAppliesDisplayedFieldsAndDistinctAttribute(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	e, err := Open(dir, ftypes.IndexSettings{
		DisplayedFields:   []string{"title"},
		DistinctAttribute: "author",
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Index("1", ftypes.Document{"id": "1", "title": "dune", "author": "herbert"}))
	require.NoError(t, e.Index("2", ftypes.Document{"id": "2", "title": "dune messiah", "author": "herbert"}))

	res, err := e.Search(engine.SearchRequest{Query: "dune", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Contains(t, res.Hits[0].Doc, "title")
	assert.NotContains(t, res.Hits[0].Doc, "author")
}
