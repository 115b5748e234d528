package indexworker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/8fs-io/ftsd/internal/blockingpool"
	"github.com/8fs-io/ftsd/internal/engine"
	"github.com/8fs-io/ftsd/internal/engine/bleveengine"
	"github.com/8fs-io/ftsd/internal/ftypes"
	apperrors "github.com/8fs-io/ftsd/pkg/errors"
	"github.com/8fs-io/ftsd/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) (*Handle, ftypes.IndexId) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	pool := blockingpool.New(blockingpool.DefaultConfig(), log)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(cancel)
	t.Cleanup(pool.Stop)

	h := New(bleveengine.Opener{}, t.TempDir(), pool, log, nil)
	t.Cleanup(func() { h.Close() })

	indexID := ftypes.NewIndexId()
	_, err = h.Create(context.Background(), indexID, "")
	require.NoError(t, err)
	return h, indexID
}

func writePayload(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func addJob(payloadData string, method ftypes.AddMethod, t *testing.T) *ftypes.UpdateJob {
	return &ftypes.UpdateJob{
		UpdateID:    1,
		Meta:        ftypes.JobMeta{Kind: ftypes.JobAddDocuments, Format: ftypes.FormatJSON, Method: method},
		PayloadPath: writePayload(t, payloadData),
	}
}

func TestApplyAddDocumentsInfersIDPrimaryKey(t *testing.T) {
	h, indexID := newTestHandle(t)
	job := addJob(`[{"id":"1","title":"hello"}]`, ftypes.AddMethodReplace, t)

	result, err := h.Apply(context.Background(), indexID, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IndexedDocuments)

	meta, err := h.Meta(context.Background(), indexID)
	require.NoError(t, err)
	assert.Equal(t, "id", meta.PrimaryKey)
	assert.Equal(t, 1, meta.NumberOfDocuments)
}

func TestApplyAddDocumentsInfersSuffixedPrimaryKey(t *testing.T) {
	h, indexID := newTestHandle(t)
	job := addJob(`[{"movie_id":"42","title":"hello"}]`, ftypes.AddMethodReplace, t)

	_, err := h.Apply(context.Background(), indexID, job)
	require.NoError(t, err)

	meta, err := h.Meta(context.Background(), indexID)
	require.NoError(t, err)
	assert.Equal(t, "movie_id", meta.PrimaryKey)
}

func TestApplyAddDocumentsUpdateMergesFields(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	first := addJob(`[{"id":"1","title":"hello","year":2000}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, first)
	require.NoError(t, err)

	second := addJob(`[{"id":"1","title":"updated"}]`, ftypes.AddMethodUpdate, t)
	_, err = h.Apply(ctx, indexID, second)
	require.NoError(t, err)

	inst, err := h.get(indexID)
	require.NoError(t, err)
	doc, err := inst.eng.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "updated", doc["title"])
	assert.Equal(t, float64(2000), doc["year"])
}

func TestApplyAddDocumentsPrimaryKeyMismatchFailsTerminally(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	first := addJob(`[{"id":"1"}]`, ftypes.AddMethodReplace, t)
	first.Meta.PrimaryKey = "id"
	_, err := h.Apply(ctx, indexID, first)
	require.NoError(t, err)

	second := addJob(`[{"sku":"X"}]`, ftypes.AddMethodReplace, t)
	second.Meta.PrimaryKey = "sku"
	_, err = h.Apply(ctx, indexID, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key")
}

func TestApplyDeleteDocuments(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	add := addJob(`[{"id":"1"},{"id":"2"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, add)
	require.NoError(t, err)

	del := &ftypes.UpdateJob{UpdateID: 2, Meta: ftypes.JobMeta{Kind: ftypes.JobDeleteDocuments, DocumentIDs: []string{"1"}}}
	result, err := h.Apply(ctx, indexID, del)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedDocuments)

	meta, err := h.Meta(ctx, indexID)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.NumberOfDocuments)
}

func TestApplyClearDocuments(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	add := addJob(`[{"id":"1"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, add)
	require.NoError(t, err)

	clear := &ftypes.UpdateJob{UpdateID: 2, Meta: ftypes.JobMeta{Kind: ftypes.JobClearDocuments}}
	_, err = h.Apply(ctx, indexID, clear)
	require.NoError(t, err)

	meta, err := h.Meta(ctx, indexID)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.NumberOfDocuments)
}

func TestSearchFindsIndexedDocument(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	add := addJob(`[{"id":"1","title":"a tale of two cities"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, add)
	require.NoError(t, err)

	result, err := h.Search(ctx, indexID, engine.SearchRequest{Query: "tale", Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "1", result.Hits[0].ID)
}

func TestInferPrimaryKeyPrefersID(t *testing.T) {
	key := inferPrimaryKey(ftypes.Document{"id": "1", "other_id": "2"})
	assert.Equal(t, "id", key)
}

func TestInferPrimaryKeyFallsBackToSuffix(t *testing.T) {
	key := inferPrimaryKey(ftypes.Document{"sku_id": "1", "title": "x"})
	assert.Equal(t, "sku_id", key)
}

func TestInferPrimaryKeyReturnsEmptyWhenNoCandidate(t *testing.T) {
	key := inferPrimaryKey(ftypes.Document{"title": "x"})
	assert.Equal(t, "", key)
}

func TestApplyAgainstUnknownIDFailsIndexUnavailable(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	job := addJob(`[{"id":"1"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, ftypes.NewIndexId(), job)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeIndexUnavailable))
}

func TestSearchAgainstUnknownIDFailsIndexUnavailable(t *testing.T) {
	h, _ := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Search(ctx, ftypes.NewIndexId(), engine.SearchRequest{Query: "x", Limit: 10})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeIndexUnavailable))
}

func TestCreateTwiceFailsAlreadyExists(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Create(ctx, indexID, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAlreadyExists))
}

func TestDeleteThenApplyFailsIndexUnavailable(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.Delete(ctx, indexID))

	job := addJob(`[{"id":"1"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, job)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeIndexUnavailable))
}

func TestDocumentsListsAndProjectsFields(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	add := addJob(`[{"id":"1","title":"dune","year":1965}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, add)
	require.NoError(t, err)

	docs, total, err := h.Documents(ctx, indexID, 0, 10, []string{"title"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "title")
	assert.NotContains(t, docs[0], "year")
}

func TestDocumentReturnsNotFoundForMissingID(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	_, err := h.Document(ctx, indexID, "missing", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeNotFound))
}

func TestSettingsReflectsAppliedUpdateSettingsJob(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	settings := ftypes.IndexSettings{SearchableFields: []string{"title"}, RankingRules: []string{"year"}}
	job := &ftypes.UpdateJob{UpdateID: 1, Meta: ftypes.JobMeta{Kind: ftypes.JobUpdateSettings, Settings: &settings}}
	_, err := h.Apply(ctx, indexID, job)
	require.NoError(t, err)

	got, err := h.Settings(ctx, indexID)
	require.NoError(t, err)
	assert.Equal(t, []string{"year"}, got.RankingRules)
}

func TestFieldsDistributionReflectsIndexedDocuments(t *testing.T) {
	h, indexID := newTestHandle(t)
	ctx := context.Background()

	add := addJob(`[{"id":"1","title":"dune","year":1965},{"id":"2","title":"moby dick"}]`, ftypes.AddMethodReplace, t)
	_, err := h.Apply(ctx, indexID, add)
	require.NoError(t, err)

	dist, err := h.FieldsDistribution(ctx, indexID)
	require.NoError(t, err)
	assert.Equal(t, 2, dist["title"])
	assert.Equal(t, 1, dist["year"])
}
