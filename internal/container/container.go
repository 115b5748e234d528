// Package container wires ftsd's tiers together: leaves first (name
// resolver), then the per-index stores and worker that depend on it,
// then the façade and snapshot coordinator that compose everything.
package container

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/8fs-io/ftsd/internal/blockingpool"
	"github.com/8fs-io/ftsd/internal/config"
	"github.com/8fs-io/ftsd/internal/engine/bleveengine"
	"github.com/8fs-io/ftsd/internal/facade"
	"github.com/8fs-io/ftsd/internal/indexworker"
	"github.com/8fs-io/ftsd/internal/metrics"
	"github.com/8fs-io/ftsd/internal/nameresolver"
	"github.com/8fs-io/ftsd/internal/snapshot"
	"github.com/8fs-io/ftsd/pkg/logger"
)

// Container holds every long-lived dependency the process needs.
type Container struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	nameStore   *nameresolver.Store
	Resolver    *nameresolver.Handle
	Pool        *blockingpool.Pool
	IndexWorker *indexworker.Handle
	Facade      *facade.Facade
	Snapshot    *snapshot.Coordinator
}

// New constructs a Container from cfg. ctx governs the lifetime of every
// tier's background goroutines; cancelling it (or calling Close) stops
// them all.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metricsBundle := metrics.New()
	if err := metricsBundle.Register(prometheus.DefaultRegisterer); err != nil {
		appLogger.Warn("failed to register metrics", "error", err)
	}

	nameStore, err := nameresolver.OpenStore(cfg.Data.NameDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open name resolver store: %w", err)
	}
	resolver := nameresolver.Start(ctx, nameStore, appLogger, cfg.Queue.Depth)

	pool := blockingpool.New(&blockingpool.Config{Workers: cfg.Pool.Workers, Capacity: cfg.Pool.Capacity}, appLogger)
	pool.Start(ctx)

	worker := indexworker.New(bleveengine.Opener{}, cfg.Data.IndexesDir, pool, appLogger, metricsBundle)

	f := facade.New(facade.Config{
		UpdatesDir:        cfg.Data.UpdatesDir,
		RecoverOnStart:    cfg.Queue.RecoveryScan,
		QueueDepth:        cfg.Queue.Depth,
		PayloadChunkBytes: cfg.Queue.PayloadChunkKiB * 1024,
	}, resolver, worker, appLogger, metricsBundle)

	var coordinator *snapshot.Coordinator
	if cfg.Snapshot.Enabled {
		coordinator = snapshot.New(snapshot.Config{
			Dir:    cfg.Snapshot.Dir,
			DBName: filepath.Base(cfg.Data.Dir),
			Period: cfg.Snapshot.Period,
		}, resolver, f, worker, metricsBundle, appLogger)
	}

	return &Container{
		Config:      cfg,
		Logger:      appLogger,
		Metrics:     metricsBundle,
		nameStore:   nameStore,
		Resolver:    resolver,
		Pool:        pool,
		IndexWorker: worker,
		Facade:      f,
		Snapshot:    coordinator,
	}, nil
}

// Run starts the snapshot coordinator loop, if one was configured. It
// blocks until ctx is cancelled.
func (c *Container) Run(ctx context.Context) {
	if c.Snapshot != nil {
		c.Snapshot.Run(ctx)
	}
	<-ctx.Done()
}

// Close releases every tier's resources in reverse dependency order.
func (c *Container) Close() error {
	c.Facade.Close()
	if err := c.IndexWorker.Close(); err != nil {
		c.Logger.Warn("failed to close index worker", "error", err)
	}
	c.Pool.Stop()
	c.Resolver.Stop()
	return c.nameStore.Close()
}
