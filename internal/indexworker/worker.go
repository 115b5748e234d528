// Package indexworker owns the live engine.Engine instance for each index
// and enforces the tier's concurrency contract: concurrent reads (limited
// only by the blocking pool's worker count), but at most one in-flight
// write per index.
package indexworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/8fs-io/ftsd/internal/blockingpool"
	"github.com/8fs-io/ftsd/internal/engine"
	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/internal/metrics"
	"github.com/8fs-io/ftsd/internal/payload"
	"github.com/8fs-io/ftsd/pkg/logger"

	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// instance tracks one index's open engine plus the single-slot write
// mailbox that serializes mutations against it.
type instance struct {
	mu       sync.RWMutex
	eng      engine.Engine
	meta     ftypes.IndexMeta
	settings ftypes.IndexSettings
	writeSem chan struct{} // capacity 1: held by the in-flight writer, if any
}

// Handle manages every open index instance for this process. It implements
// updatestore.Applier, the boundary the update store tier calls through.
type Handle struct {
	opener  engine.Opener
	rootDir string
	logger  logger.Logger
	pool    *blockingpool.Pool
	metrics *metrics.Metrics

	mu        sync.Mutex
	instances map[ftypes.IndexId]*instance
}

// New constructs an indexworker Handle. Engine instances are opened lazily
// on first use and kept open until Close. Every call into the engine is
// dispatched through pool so a slow bleve operation never blocks this
// tier's mailbox goroutines. m may be nil.
func New(opener engine.Opener, rootDir string, pool *blockingpool.Pool, log logger.Logger, m *metrics.Metrics) *Handle {
	return &Handle{
		opener:    opener,
		rootDir:   rootDir,
		logger:    log,
		pool:      pool,
		metrics:   m,
		instances: make(map[ftypes.IndexId]*instance),
	}
}

// observeDocumentCount updates the documents-total gauge for indexID, if
// metrics are configured.
func (h *Handle) observeDocumentCount(indexID ftypes.IndexId, count int) {
	if h.metrics != nil {
		h.metrics.DocumentsTotal.WithLabelValues(indexID.String()).Set(float64(count))
	}
}

// offload runs fn on the blocking pool and returns its error, or ctx.Err()
// if ctx is cancelled before a worker picks it up.
func (h *Handle) offload(ctx context.Context, fn func() error) error {
	return h.pool.Submit(ctx, func(ctx context.Context) error { return fn() })
}

// get returns the in-memory instance for indexID, reopening its on-disk
// engine state if this process hasn't touched it yet. It never creates a
// new index: if indexID was never created (or was deleted) its directory
// is absent and get fails with ErrIndexUnavailable, matching spec.md
// §4.3's tie-break for jobs/searches against a non-existent id.
func (h *Handle) get(indexID ftypes.IndexId) (*instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if inst, ok := h.instances[indexID]; ok {
		return inst, nil
	}

	dir := filepath.Join(h.rootDir, indexID.String())
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, apperrors.ErrIndexUnavailable.WithContext("index_id", indexID)
	}

	eng, err := h.opener.Open(dir, ftypes.IndexSettings{})
	if err != nil {
		return nil, err
	}

	inst := &instance{
		eng:      eng,
		meta:     ftypes.IndexMeta{ID: indexID},
		writeSem: make(chan struct{}, 1),
	}
	h.instances[indexID] = inst
	return inst, nil
}

// Create materializes a brand-new, empty index for indexID. Calling it
// twice for the same id, or for an id whose on-disk state already
// exists, fails with AlreadyExists.
func (h *Handle) Create(ctx context.Context, indexID ftypes.IndexId, primaryKey string) (ftypes.IndexMeta, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.instances[indexID]; ok {
		return ftypes.IndexMeta{}, apperrors.ErrIndexAlreadyExists.WithContext("index_id", indexID)
	}

	dir := filepath.Join(h.rootDir, indexID.String())
	if _, err := os.Stat(dir); err == nil {
		return ftypes.IndexMeta{}, apperrors.ErrIndexAlreadyExists.WithContext("index_id", indexID)
	}

	settings := ftypes.IndexSettings{PrimaryKey: primaryKey}
	eng, err := h.opener.Open(dir, settings)
	if err != nil {
		return ftypes.IndexMeta{}, err
	}

	inst := &instance{
		eng:      eng,
		meta:     ftypes.IndexMeta{ID: indexID, PrimaryKey: primaryKey},
		settings: settings,
		writeSem: make(chan struct{}, 1),
	}
	h.instances[indexID] = inst
	return inst.meta, nil
}

// Apply dispatches job against indexID's engine, serializing with any
// other in-flight write on the same index.
func (h *Handle) Apply(ctx context.Context, indexID ftypes.IndexId, job *ftypes.UpdateJob) (*ftypes.UpdateResult, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return nil, err
	}

	select {
	case inst.writeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-inst.writeSem }()

	switch job.Meta.Kind {
	case ftypes.JobAddDocuments:
		return h.applyAddDocuments(ctx, inst, job)
	case ftypes.JobUpdateSettings:
		return h.applyUpdateSettings(ctx, inst, job)
	case ftypes.JobClearDocuments:
		return h.applyClearDocuments(ctx, inst)
	case ftypes.JobDeleteDocuments:
		return h.applyDeleteDocuments(ctx, inst, job)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeInternal, "unknown job kind: %s", job.Meta.Kind)
	}
}

func (h *Handle) applyAddDocuments(ctx context.Context, inst *instance, job *ftypes.UpdateJob) (*ftypes.UpdateResult, error) {
	if job.PayloadPath == "" {
		return nil, apperrors.New(apperrors.ErrCodeMalformedPayload, "add_documents job has no payload")
	}

	docs, err := decodePayloadFile(job.PayloadPath, job.Meta.Format)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return &ftypes.UpdateResult{}, nil
	}

	inst.mu.Lock()
	primaryKey := inst.meta.PrimaryKey
	inst.mu.Unlock()

	declaredKey := job.Meta.PrimaryKey
	if primaryKey != "" && declaredKey != "" && declaredKey != primaryKey {
		return nil, apperrors.ErrPrimaryKeyMismatch.WithContext("index_primary_key", primaryKey).WithContext("job_primary_key", declaredKey)
	}

	key := primaryKey
	if key == "" {
		key = declaredKey
	}
	if key == "" {
		key = inferPrimaryKey(docs[0])
	}
	if key == "" {
		return nil, apperrors.ErrMissingPrimaryKey
	}

	indexed := 0
	err = h.offload(ctx, func() error {
		for _, doc := range docs {
			idVal, ok := doc[key]
			if !ok {
				return apperrors.Newf(apperrors.ErrCodeMissingPrimaryKey, "document missing primary key field %q", key)
			}
			id := fmt.Sprintf("%v", idVal)

			toIndex := doc
			if job.Meta.Method == ftypes.AddMethodUpdate {
				existing, err := inst.eng.Get(id)
				if err != nil {
					return err
				}
				if existing != nil {
					merged := make(ftypes.Document, len(existing)+len(doc))
					for k, v := range existing {
						merged[k] = v
					}
					for k, v := range doc {
						merged[k] = v
					}
					toIndex = merged
				}
			}

			if err := inst.eng.Index(id, toIndex); err != nil {
				return err
			}
			indexed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	if inst.meta.PrimaryKey == "" {
		inst.meta.PrimaryKey = key
	}
	count, _ := inst.eng.DocumentCount()
	inst.meta.NumberOfDocuments = count
	id := inst.meta.ID
	inst.mu.Unlock()
	h.observeDocumentCount(id, count)

	return &ftypes.UpdateResult{IndexedDocuments: indexed}, nil
}

func (h *Handle) applyUpdateSettings(ctx context.Context, inst *instance, job *ftypes.UpdateJob) (*ftypes.UpdateResult, error) {
	if job.Meta.Settings == nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedPayload, "update_settings job has no settings")
	}

	err := h.offload(ctx, func() error { return inst.eng.ApplySettings(*job.Meta.Settings) })
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	if job.Meta.Settings.PrimaryKey != "" {
		inst.meta.PrimaryKey = job.Meta.Settings.PrimaryKey
	}
	inst.settings = *job.Meta.Settings
	inst.mu.Unlock()

	return &ftypes.UpdateResult{}, nil
}

func (h *Handle) applyClearDocuments(ctx context.Context, inst *instance) (*ftypes.UpdateResult, error) {
	if err := h.offload(ctx, inst.eng.Clear); err != nil {
		return nil, err
	}
	inst.mu.Lock()
	inst.meta.NumberOfDocuments = 0
	id := inst.meta.ID
	inst.mu.Unlock()
	h.observeDocumentCount(id, 0)
	return &ftypes.UpdateResult{}, nil
}

func (h *Handle) applyDeleteDocuments(ctx context.Context, inst *instance, job *ftypes.UpdateJob) (*ftypes.UpdateResult, error) {
	deleted := 0
	err := h.offload(ctx, func() error {
		for _, id := range job.Meta.DocumentIDs {
			if err := inst.eng.Delete(id); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	count, _ := inst.eng.DocumentCount()
	inst.meta.NumberOfDocuments = count
	id := inst.meta.ID
	inst.mu.Unlock()
	h.observeDocumentCount(id, count)

	return &ftypes.UpdateResult{DeletedDocuments: deleted}, nil
}

// Search runs a read-only query against indexID. Reads never contend with
// the per-index write semaphore, so concurrent searches proceed freely.
func (h *Handle) Search(ctx context.Context, indexID ftypes.IndexId, req engine.SearchRequest) (*engine.SearchResult, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return nil, err
	}

	var result *engine.SearchResult
	err = h.offload(ctx, func() error {
		var searchErr error
		result, searchErr = inst.eng.Search(req)
		return searchErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Meta returns a snapshot of what this tier knows about indexID.
func (h *Handle) Meta(ctx context.Context, indexID ftypes.IndexId) (ftypes.IndexMeta, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return ftypes.IndexMeta{}, err
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.meta, nil
}

// Settings returns a snapshot of indexID's currently applied search settings.
func (h *Handle) Settings(ctx context.Context, indexID ftypes.IndexId) (ftypes.IndexSettings, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return ftypes.IndexSettings{}, err
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.settings, nil
}

// Documents lists up to limit documents from indexID starting at offset. If
// fields is non-empty, each returned document is projected down to those
// field names.
func (h *Handle) Documents(ctx context.Context, indexID ftypes.IndexId, offset, limit int, fields []string) ([]ftypes.Document, int, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return nil, 0, err
	}

	var (
		docs  []ftypes.Document
		total int
	)
	err = h.offload(ctx, func() error {
		var docsErr error
		docs, total, docsErr = inst.eng.Documents(offset, limit)
		return docsErr
	})
	if err != nil {
		return nil, 0, err
	}

	if len(fields) > 0 {
		for i, doc := range docs {
			docs[i] = projectFields(doc, fields)
		}
	}
	return docs, total, nil
}

// Document retrieves a single document by its primary-key value docID,
// projected to fields if non-empty. Returns ErrDocumentNotFound if docID
// doesn't exist in indexID.
func (h *Handle) Document(ctx context.Context, indexID ftypes.IndexId, docID string, fields []string) (ftypes.Document, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return nil, err
	}

	var doc ftypes.Document
	err = h.offload(ctx, func() error {
		var getErr error
		doc, getErr = inst.eng.Get(docID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.ErrDocumentNotFound.WithContext("index_id", indexID).WithContext("document_id", docID)
	}

	if len(fields) > 0 {
		doc = projectFields(doc, fields)
	}
	return doc, nil
}

// FieldsDistribution reports, for each field name, how many documents in
// indexID currently contain it.
func (h *Handle) FieldsDistribution(ctx context.Context, indexID ftypes.IndexId) (map[string]int, error) {
	inst, err := h.get(indexID)
	if err != nil {
		return nil, err
	}

	var dist map[string]int
	err = h.offload(ctx, func() error {
		var distErr error
		dist, distErr = inst.eng.FieldsDistribution()
		return distErr
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// projectFields limits doc to the named fields.
func projectFields(doc ftypes.Document, fields []string) ftypes.Document {
	if doc == nil {
		return nil
	}
	projected := make(ftypes.Document, len(fields))
	for _, field := range fields {
		if v, ok := doc[field]; ok {
			projected[field] = v
		}
	}
	return projected
}

// SetPrimaryKey records key as indexID's primary key without touching any
// document. Used by the update_index metadata operation, which is
// distinct from update_settings: it never goes through the job queue.
func (h *Handle) SetPrimaryKey(ctx context.Context, indexID ftypes.IndexId, key string) error {
	inst, err := h.get(indexID)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.meta.PrimaryKey = key
	inst.mu.Unlock()
	return nil
}

// Snapshot copies indexID's live engine state into dir, continuing to
// accept new submissions while the copy runs.
func (h *Handle) Snapshot(ctx context.Context, indexID ftypes.IndexId, dir string) error {
	inst, err := h.get(indexID)
	if err != nil {
		return err
	}
	return h.offload(ctx, func() error { return inst.eng.Snapshot(dir) })
}

// Delete closes and removes indexID's on-disk engine state entirely. A
// subsequent get for the same id fails with ErrIndexUnavailable.
func (h *Handle) Delete(ctx context.Context, indexID ftypes.IndexId) error {
	h.mu.Lock()
	inst, ok := h.instances[indexID]
	if ok {
		delete(h.instances, indexID)
	}
	h.mu.Unlock()

	dir := filepath.Join(h.rootDir, indexID.String())
	if ok {
		// Wait for any in-flight write to finish before closing the engine
		// out from under it; nothing else can acquire writeSem afterward
		// since the instance is already unlinked from h.instances above.
		select {
		case inst.writeSem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-inst.writeSem }()

		if err := h.offload(ctx, inst.eng.Close); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to remove index directory", err)
	}
	return nil
}

// Close releases every open engine instance.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for id, inst := range h.instances {
		if err := inst.eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(h.instances, id)
	}
	return firstErr
}

func decodePayloadFile(path string, format ftypes.PayloadFormat) ([]ftypes.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIoError, "open payload file", err)
	}
	defer f.Close()

	dec, err := payload.NewDecoder(format, f)
	if err != nil {
		return nil, err
	}
	return payload.DecodeAll(dec)
}

// inferPrimaryKey applies spec's fallback rule: the field "id", or else a
// field whose name ends in "_id". Documents are maps, so when several
// fields end in "_id" which one is returned is not defined.
func inferPrimaryKey(doc ftypes.Document) string {
	if _, ok := doc["id"]; ok {
		return "id"
	}
	for field := range doc {
		if strings.HasSuffix(field, "_id") {
			return field
		}
	}
	return ""
}
