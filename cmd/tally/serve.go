package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyworks/tally/internal/api"
	"github.com/tallyworks/tally/internal/backup"
	"github.com/tallyworks/tally/internal/broadcast"
	"github.com/tallyworks/tally/internal/cache"
	"github.com/tallyworks/tally/internal/session"
	"github.com/tallyworks/tally/internal/state"
	"github.com/tallyworks/tally/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dev log service",
	Long:  "Host the shared action log over HTTP so multiple sessions on one machine can collaborate, with a local session keeping the reduced state warm.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// Durable cache (migrations, WAL mode). A missing path degrades to
	// the no-op store and full replay.
	var store cache.Store
	if cfg.Cache.Path == "" {
		store = cache.NewNop(errors.New("cache path not configured"))
	} else {
		store = cache.Open(cfg.Cache.Path)
	}
	slog.Info("cache initialized", "path", cfg.Cache.Path)

	// In-process action log; the HTTP surface below shares it out.
	log := broadcast.NewMemoryLog()
	machine := state.New()

	sess, err := session.Open(ctx, session.Options{
		Machine:          machine,
		Cache:            store,
		Log:              log,
		SnapshotDebounce: time.Duration(cfg.Session.SnapshotDebounce),
		OnError: func(err error) {
			slog.Error("session error", "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	slog.Info("session opened", "cursor", sess.Cursor())

	handler := api.NewHandler(log, machine, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return fmt.Errorf("backup uploader: %w", err)
	}

	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Session.CompactionInterval); interval > 0 {
		compactor := worker.NewCompactionCoordinator(store, interval, time.Duration(cfg.Session.CompactionRetention))
		startWorker(ctx, &wg, "compaction", compactor.Run)
	}
	if interval := time.Duration(cfg.Backup.Interval); interval > 0 && cfg.Backup.Bucket != "" {
		backups := worker.NewBackupCoordinator(store, uploader, interval)
		startWorker(ctx, &wg, "backup", backups.Run)
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight requests, then wind down in dependency order:
	// workers, session (flushes the pending snapshot), log, cache.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	sess.Close()
	log.Close()

	if err := store.Close(); err != nil {
		slog.Error("cache close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
