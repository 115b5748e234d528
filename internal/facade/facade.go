// Package facade composes the Name Resolver, Update Store, and Index
// Worker handles into the public operations a caller actually uses. It is
// a plain Go API: no HTTP framing, no auth — those are bolted on above it.
package facade

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/8fs-io/ftsd/internal/engine"
	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/internal/indexworker"
	"github.com/8fs-io/ftsd/internal/metrics"
	"github.com/8fs-io/ftsd/internal/nameresolver"
	"github.com/8fs-io/ftsd/internal/snapshot"
	"github.com/8fs-io/ftsd/internal/updatestore"
	"github.com/8fs-io/ftsd/pkg/logger"

	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// updateStoreEntry pairs a per-index update store's actor Handle with the
// underlying Store, since teardown and snapshotting need both.
type updateStoreEntry struct {
	handle *updatestore.Handle
	store  *updatestore.Store
}

// Config roots the per-index update store directories and controls
// whether a restart recovers interrupted jobs.
type Config struct {
	UpdatesDir        string
	RecoverOnStart    bool
	QueueDepth        int
	PayloadChunkBytes int
}

// Facade is the library boundary: every user-visible operation the
// control plane exposes is a method here.
type Facade struct {
	config      Config
	resolver    *nameresolver.Handle
	indexWorker *indexworker.Handle
	logger      logger.Logger
	metrics     *metrics.Metrics

	mu           sync.RWMutex
	updateStores map[ftypes.IndexId]*updateStoreEntry
}

// New constructs a Facade. indexWorker doubles as the updatestore.Applier
// every per-index update store dispatches jobs into. m may be nil.
func New(config Config, resolver *nameresolver.Handle, indexWorker *indexworker.Handle, log logger.Logger, m *metrics.Metrics) *Facade {
	return &Facade{
		config:       config,
		resolver:     resolver,
		indexWorker:  indexWorker,
		logger:       log,
		metrics:      m,
		updateStores: make(map[ftypes.IndexId]*updateStoreEntry),
	}
}

// Get implements snapshot.UpdateStores: it resolves the per-index update
// store Handle the snapshot coordinator should dump for id, if one is
// currently open.
func (f *Facade) Get(id ftypes.IndexId) (snapshot.IndexSnapshotter, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.updateStores[id]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

func (f *Facade) updateStoreDir(id ftypes.IndexId) string {
	return filepath.Join(f.config.UpdatesDir, id.String())
}

// openUpdateStore opens (or returns the already-open) update store Handle
// for id, starting its actor goroutines on first use.
func (f *Facade) openUpdateStore(ctx context.Context, id ftypes.IndexId) (*updatestore.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.updateStores[id]; ok {
		return entry.handle, nil
	}

	store, err := updatestore.OpenWithChunkSize(f.updateStoreDir(id), id, f.config.PayloadChunkBytes)
	if err != nil {
		return nil, err
	}

	handle, err := updatestore.Start(ctx, store, f.indexWorker, f.logger, f.config.RecoverOnStart, f.config.QueueDepth, f.metrics)
	if err != nil {
		store.Close()
		return nil, err
	}

	f.updateStores[id] = &updateStoreEntry{handle: handle, store: store}
	return handle, nil
}

// CreateIndex allocates a fresh name->id binding and materializes both
// the update store and index worker sub-stores for it, optionally
// declaring primaryKey up front.
func (f *Facade) CreateIndex(ctx context.Context, name string, primaryKey string) (*ftypes.IndexMeta, error) {
	binding, err := f.resolver.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	if _, err := f.openUpdateStore(ctx, binding.ID); err != nil {
		return nil, err
	}
	meta, err := f.indexWorker.Create(ctx, binding.ID, primaryKey)
	if err != nil {
		return nil, err
	}
	meta.Name = binding.Name
	meta.CreatedAt = binding.CreatedAt

	if f.metrics != nil {
		f.metrics.IndexesTotal.Inc()
	}
	return &meta, nil
}

// ListIndexes returns every live name binding.
func (f *Facade) ListIndexes(ctx context.Context) ([]ftypes.NameBinding, error) {
	return f.resolver.List(ctx)
}

// DeleteIndex removes name's binding, then tears down its per-index
// state. The binding is removed first so the name is immediately free for
// reuse even if teardown is still running.
func (f *Facade) DeleteIndex(ctx context.Context, name string) error {
	binding, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		return err
	}

	if err := f.resolver.Delete(ctx, name); err != nil {
		return err
	}

	f.mu.Lock()
	entry, ok := f.updateStores[binding.ID]
	delete(f.updateStores, binding.ID)
	f.mu.Unlock()

	if ok {
		if err := entry.handle.Remove(ctx, entry.store); err != nil {
			f.logger.Warn("failed to remove update store state", "index_id", binding.ID, "error", err)
		}
	} else {
		os.RemoveAll(f.updateStoreDir(binding.ID))
	}

	if err := f.indexWorker.Delete(ctx, binding.ID); err != nil {
		f.logger.Warn("failed to remove index worker state", "index_id", binding.ID, "error", err)
	}

	if f.metrics != nil {
		f.metrics.IndexesTotal.Dec()
	}
	return nil
}

func (f *Facade) resolveID(ctx context.Context, name string) (ftypes.IndexId, error) {
	binding, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		return ftypes.IndexId{}, err
	}
	return binding.ID, nil
}

// AddDocuments enqueues a bulk document job for name.
func (f *Facade) AddDocuments(ctx context.Context, name string, method ftypes.AddMethod, format ftypes.PayloadFormat, primaryKey string, payload io.Reader) (*ftypes.UpdateJob, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	store, err := f.openUpdateStore(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := ftypes.JobMeta{Kind: ftypes.JobAddDocuments, Method: method, Format: format, PrimaryKey: primaryKey}
	job, err := store.Submit(ctx, meta, payload)
	if err != nil {
		return nil, err
	}
	job.IndexID = id
	return job, nil
}

// UpdateSettings enqueues a settings-replacement job for name, optionally
// creating the index first if it does not exist.
func (f *Facade) UpdateSettings(ctx context.Context, name string, settings ftypes.IndexSettings, createIfMissing bool) (*ftypes.UpdateJob, error) {
	binding, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		if !apperrors.IsErrorCode(err, apperrors.ErrCodeNotFound) || !createIfMissing {
			return nil, err
		}
		if _, err := f.CreateIndex(ctx, name, ""); err != nil {
			return nil, err
		}
		binding, err = f.resolver.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
	}

	store, err := f.openUpdateStore(ctx, binding.ID)
	if err != nil {
		return nil, err
	}
	job, err := store.Submit(ctx, ftypes.JobMeta{Kind: ftypes.JobUpdateSettings, Settings: &settings}, nil)
	if err != nil {
		return nil, err
	}
	job.IndexID = binding.ID
	return job, nil
}

// ClearDocuments enqueues a job that drops all documents from name,
// keeping its settings.
func (f *Facade) ClearDocuments(ctx context.Context, name string) (*ftypes.UpdateJob, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	store, err := f.openUpdateStore(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := store.Submit(ctx, ftypes.JobMeta{Kind: ftypes.JobClearDocuments}, nil)
	if err != nil {
		return nil, err
	}
	job.IndexID = id
	return job, nil
}

// DeleteDocuments enqueues a job that removes the documents in ids.
func (f *Facade) DeleteDocuments(ctx context.Context, name string, ids []string) (*ftypes.UpdateJob, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	store, err := f.openUpdateStore(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := store.Submit(ctx, ftypes.JobMeta{Kind: ftypes.JobDeleteDocuments, DocumentIDs: ids}, nil)
	if err != nil {
		return nil, err
	}
	job.IndexID = id
	return job, nil
}

// UpdateStatus returns a single job's current state.
func (f *Facade) UpdateStatus(ctx context.Context, name string, updateID int64) (*ftypes.UpdateJob, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	store, err := f.openUpdateStore(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, updateID)
}

// AllUpdateStatus returns every job ever submitted against name.
func (f *Facade) AllUpdateStatus(ctx context.Context, name string) ([]*ftypes.UpdateJob, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	store, err := f.openUpdateStore(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}

// UpdateIndex applies metadata changes (rename, primary key) outside the
// job queue: these are instantaneous, not asynchronous mutations of the
// document set.
func (f *Facade) UpdateIndex(ctx context.Context, name string, newName *string, primaryKey *string) (*ftypes.IndexMeta, error) {
	binding, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	if newName != nil && *newName != name {
		binding, err = f.resolver.Rename(ctx, name, *newName)
		if err != nil {
			return nil, err
		}
	}

	if primaryKey != nil {
		if err := f.indexWorker.SetPrimaryKey(ctx, binding.ID, *primaryKey); err != nil {
			return nil, err
		}
	}

	meta, err := f.indexWorker.Meta(ctx, binding.ID)
	if err != nil {
		return nil, err
	}
	meta.Name = binding.Name
	meta.CreatedAt = binding.CreatedAt
	return &meta, nil
}

// Search runs a read-only query against name's live engine state.
func (f *Facade) Search(ctx context.Context, name string, req engine.SearchRequest) (*engine.SearchResult, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	return f.indexWorker.Search(ctx, id, req)
}

// Stats returns the derived IndexMeta for name, including whether an
// update job is currently being applied and the per-field document
// coverage across the index.
func (f *Facade) Stats(ctx context.Context, name string) (*ftypes.IndexMeta, error) {
	binding, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	meta, err := f.indexWorker.Meta(ctx, binding.ID)
	if err != nil {
		return nil, err
	}
	meta.Name = binding.Name
	meta.CreatedAt = binding.CreatedAt

	dist, err := f.indexWorker.FieldsDistribution(ctx, binding.ID)
	if err != nil {
		return nil, err
	}
	meta.FieldsDistribution = dist

	f.mu.RLock()
	entry, hasStore := f.updateStores[binding.ID]
	f.mu.RUnlock()
	if hasStore {
		isIndexing, err := entry.handle.IsProcessing(ctx)
		if err != nil {
			return nil, err
		}
		meta.IsIndexing = isIndexing
	}

	return &meta, nil
}

// Settings returns name's currently applied search settings.
func (f *Facade) Settings(ctx context.Context, name string) (ftypes.IndexSettings, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return ftypes.IndexSettings{}, err
	}
	return f.indexWorker.Settings(ctx, id)
}

// Documents lists up to limit documents from name starting at offset,
// projected to fields if non-empty.
func (f *Facade) Documents(ctx context.Context, name string, offset, limit int, fields []string) ([]ftypes.Document, int, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	return f.indexWorker.Documents(ctx, id, offset, limit, fields)
}

// Document retrieves a single document from name by its primary-key
// value docID, projected to fields if non-empty.
func (f *Facade) Document(ctx context.Context, name string, docID string, fields []string) (ftypes.Document, error) {
	id, err := f.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	return f.indexWorker.Document(ctx, id, docID, fields)
}

// Close stops every open per-index update store actor. The index worker
// and resolver are owned and closed by the caller that constructed them.
func (f *Facade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, entry := range f.updateStores {
		entry.handle.Stop()
		entry.store.Close()
		delete(f.updateStores, id)
	}
}
