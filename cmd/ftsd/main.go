package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/8fs-io/ftsd/internal/config"
	"github.com/8fs-io/ftsd/internal/container"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}

	c.Logger.Info("starting ftsd",
		"data_dir", cfg.Data.Dir,
		"snapshot_enabled", cfg.Snapshot.Enabled,
		"pool_workers", cfg.Pool.Workers,
	)

	go c.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	c.Logger.Info("shutting down ftsd", "grace_period", cfg.Queue.ShutdownGrace)
	cancel()

	if err := c.Close(); err != nil {
		c.Logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}

	c.Logger.Info("ftsd exited")
}
