package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tallyworks/tally/internal/backup"
	"github.com/tallyworks/tally/internal/cache"
)

// BackupCoordinator periodically ships the durable snapshot to remote
// storage. With a NoopUploader every cycle is a cheap no-op, so the
// coordinator can run unconditionally.
type BackupCoordinator struct {
	store    cache.Store
	uploader backup.Uploader
	interval time.Duration

	lastCursorID string
}

// NewBackupCoordinator creates a backup coordinator.
func NewBackupCoordinator(store cache.Store, uploader backup.Uploader, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (b *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("backup coordinator started",
		"component", "worker",
		"worker", "backup-coordinator",
		"interval", b.interval.String(),
	)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("backup coordinator stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			b.upload(ctx)
		}
	}
}

// upload ships the current snapshot unless its cursor has not moved
// since the last successful upload.
func (b *BackupCoordinator) upload(ctx context.Context) {
	start := time.Now()

	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("failed to load snapshot for backup",
			"component", "worker",
			"worker", "backup-coordinator",
			"error", err,
		)
		return
	}
	if snap == nil {
		slog.Debug("no snapshot to back up",
			"component", "worker",
			"worker", "backup-coordinator",
		)
		return
	}

	cursorID := ""
	if snap.LastAction != nil {
		cursorID = snap.LastAction.ID
	}
	if cursorID != "" && cursorID == b.lastCursorID {
		slog.Debug("snapshot unchanged since last backup",
			"component", "worker",
			"worker", "backup-coordinator",
			"cursor_id", cursorID,
		)
		return
	}

	if err := b.uploader.Upload(ctx, *snap); err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("snapshot backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"error", err,
		)
		return
	}
	b.lastCursorID = cursorID

	slog.Info("snapshot backup completed",
		"component", "worker",
		"worker", "backup-coordinator",
		"cursor_id", cursorID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
