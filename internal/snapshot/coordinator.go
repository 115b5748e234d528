// Package snapshot periodically produces a single compressed archive of
// the Name Resolver and every per-index Update Store and Index Worker,
// and knows how to load one back onto an empty data directory.
package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/8fs-io/ftsd/internal/ftypes"
	"github.com/8fs-io/ftsd/internal/metrics"
	"github.com/8fs-io/ftsd/pkg/logger"

	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// Resolver is the Name Resolver surface the coordinator needs: a
// point-in-time copy of the name store, and the set of ids it covers.
type Resolver interface {
	Snapshot(ctx context.Context, dir string) error
	List(ctx context.Context) ([]ftypes.NameBinding, error)
}

// IndexSnapshotter copies one index's durable job queue into dir. The
// per-index update store Handle satisfies it; the index worker does not,
// since one Handle owns every open index and its Snapshot takes indexID
// as a parameter (see IndexWorker).
type IndexSnapshotter interface {
	Snapshot(ctx context.Context, dir string) error
}

// IndexWorker is the index worker surface: a single Handle fields calls
// for every index it has opened.
type IndexWorker interface {
	Snapshot(ctx context.Context, indexID ftypes.IndexId, dir string) error
}

// UpdateStores resolves the per-index update store Handle responsible for
// indexID, if one has been opened.
type UpdateStores interface {
	Get(indexID ftypes.IndexId) (IndexSnapshotter, bool)
}

// Config controls the coordinator's schedule and archive naming.
type Config struct {
	// Dir is the final snapshot root; completed archives land here as
	// <DBName>.snapshot.
	Dir string
	// DBName names the produced archive.
	DBName string
	// Period between snapshot attempts.
	Period time.Duration
}

// Coordinator runs the periodic snapshot loop.
type Coordinator struct {
	config      Config
	resolver    Resolver
	updateStore UpdateStores
	indexWorker IndexWorker
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// New constructs a Coordinator. metricsBundle may be nil.
func New(config Config, resolver Resolver, updateStore UpdateStores, indexWorker IndexWorker, metricsBundle *metrics.Metrics, log logger.Logger) *Coordinator {
	return &Coordinator{
		config:      config,
		resolver:    resolver,
		updateStore: updateStore,
		indexWorker: indexWorker,
		metrics:     metricsBundle,
		logger:      log,
	}
}

// Run loops until ctx is cancelled, attempting one snapshot every Period.
// A failed attempt is logged and retried on the next tick; it never
// crashes the loop.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				c.logger.Warn("snapshot attempt failed", "error", err)
				if c.metrics != nil {
					c.metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
				}
			} else if c.metrics != nil {
				c.metrics.SnapshotsTotal.WithLabelValues("succeeded").Inc()
			}
		}
	}
}

// runOnce executes one full snapshot attempt: fresh temp dir, per-tier
// dumps, then archive-and-rename. The temp dir is always removed.
func (c *Coordinator) runOnce(ctx context.Context) error {
	var timer *metrics.Timer
	if c.metrics != nil {
		timer = metrics.NewTimer()
		defer timer.ObserveDuration(c.metrics.SnapshotDuration)
	}

	tmp, err := os.MkdirTemp(c.config.Dir, ".snapshot-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to create snapshot temp directory", err)
	}
	defer os.RemoveAll(tmp)

	if err := c.resolver.Snapshot(ctx, filepath.Join(tmp, "name_store")); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to snapshot name resolver", err)
	}

	ids, err := c.resolver.List(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to list indexes for snapshot", err)
	}
	if len(ids) == 0 {
		c.logger.Info("snapshot skipped: no indexes exist")
		return nil
	}

	if err := c.snapshotIndexes(ctx, tmp, ids); err != nil {
		return err
	}

	finalPath := filepath.Join(c.config.Dir, c.config.DBName+".snapshot")
	stagingPath := finalPath + ".tmp"
	if err := createArchive(tmp, stagingPath); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to archive snapshot", err)
	}
	if err := os.Rename(stagingPath, finalPath); err != nil {
		os.Remove(stagingPath)
		return apperrors.Wrap(apperrors.ErrCodeIoError, "failed to publish snapshot archive", err)
	}

	c.logger.Info("snapshot completed", "path", finalPath, "indexes", len(ids))
	return nil
}

// snapshotIndexes dumps each index's update store and engine state in
// parallel. The resolver's listing anchors the snapshot's universe: an
// index created after the listing is simply absent from this run.
func (c *Coordinator) snapshotIndexes(ctx context.Context, tmp string, ids []ftypes.NameBinding) error {
	var wg sync.WaitGroup
	errs := make([]error, len(ids))

	for i, binding := range ids {
		wg.Add(1)
		go func(i int, id ftypes.IndexId) {
			defer wg.Done()

			storeDir := filepath.Join(tmp, "updates", id.String())
			if store, ok := c.updateStore.Get(id); ok {
				if err := store.Snapshot(ctx, storeDir); err != nil {
					errs[i] = apperrors.Wrap(apperrors.ErrCodeIoError, "failed to snapshot update store", err)
					return
				}
			}

			indexDir := filepath.Join(tmp, "indexes", id.String())
			if err := c.indexWorker.Snapshot(ctx, id, indexDir); err != nil {
				errs[i] = apperrors.Wrap(apperrors.ErrCodeIoError, "failed to snapshot index worker", err)
				return
			}
		}(i, binding.ID)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
