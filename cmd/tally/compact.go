package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyworks/tally/internal/cache"
)

var compactRetention time.Duration

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Prune cached actions behind the snapshot cursor",
	Args:  cobra.NoArgs,
	RunE:  runCompact,
}

func init() {
	compactCmd.Flags().DurationVar(&compactRetention, "retention", 24*time.Hour,
		"History to keep behind the snapshot cursor")
}

func runCompact(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Cache.Path == "" {
		return fmt.Errorf("no cache path configured")
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil || snap.LastAction == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshot cursor; nothing is safe to prune.")
		return nil
	}

	cutoff := snap.LastAction.Timestamp.Millis() - compactRetention.Milliseconds()
	if cutoff <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cursor younger than retention window; nothing to prune.")
		return nil
	}

	deleted, err := store.CompactBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"deleted":       deleted,
			"cutoff_millis": cutoff,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached actions older than %d.\n", deleted, cutoff)
	return nil
}
