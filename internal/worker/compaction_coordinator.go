// Package worker holds the background coordinators: cache compaction
// and snapshot backup. Each coordinator is a blocking Run(ctx) loop the
// caller launches in its own goroutine and stops by cancelling the
// context.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tallyworks/tally/internal/cache"
)

// CompactionCoordinator prunes cached actions the snapshot has made
// redundant. Actions at or after the snapshot cursor always survive;
// retention keeps a further window of history behind it so a rolled-back
// snapshot can still replay.
type CompactionCoordinator struct {
	store     cache.Store
	interval  time.Duration
	retention time.Duration
}

// NewCompactionCoordinator creates a compaction coordinator.
func NewCompactionCoordinator(store cache.Store, interval, retention time.Duration) *CompactionCoordinator {
	return &CompactionCoordinator{
		store:     store,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first cycle waits for a full ticker interval; compaction is
// IO-intensive and should not spike resources during startup.
func (c *CompactionCoordinator) Run(ctx context.Context) {
	slog.Info("compaction coordinator started",
		"component", "worker",
		"worker", "compaction-coordinator",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("compaction coordinator stopped",
				"component", "worker",
				"worker", "compaction-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.compact(ctx)
		}
	}
}

// compact runs one compaction cycle. Failures are logged and the next
// cycle retries; a missing snapshot means nothing is safe to prune.
func (c *CompactionCoordinator) compact(ctx context.Context) {
	start := time.Now()

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		slog.Error("failed to load snapshot for compaction",
			"component", "worker",
			"worker", "compaction-coordinator",
			"error", err,
		)
		return
	}
	if snap == nil || snap.LastAction == nil {
		slog.Debug("no snapshot cursor; skipping compaction",
			"component", "worker",
			"worker", "compaction-coordinator",
		)
		return
	}

	cutoff := snap.LastAction.Timestamp.Millis() - c.retention.Milliseconds()
	if cutoff <= 0 {
		return
	}

	deleted, err := c.store.CompactBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("compaction failed",
			"component", "worker",
			"worker", "compaction-coordinator",
			"error", err,
		)
		return
	}

	if deleted == 0 {
		slog.Debug("no cached actions to compact",
			"component", "worker",
			"worker", "compaction-coordinator",
		)
		return
	}

	slog.Info("compaction completed",
		"component", "worker",
		"worker", "compaction-coordinator",
		"actions_deleted", deleted,
		"cutoff_millis", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
