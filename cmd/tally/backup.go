package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallyworks/tally/internal/backup"
	"github.com/tallyworks/tally/internal/cache"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload the current snapshot to backup storage",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Backup.Bucket == "" {
		return fmt.Errorf("no backup bucket configured")
	}
	if cfg.Cache.Path == "" {
		return fmt.Errorf("no cache path configured")
	}

	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return err
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
	if snap == nil {
		return fmt.Errorf("no snapshot to back up")
	}

	if err := uploader.Upload(ctx, *snap); err != nil {
		return err
	}

	url, expiry, err := uploader.PresignedURL(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"url":     url,
			"expires": expiry,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot uploaded.\nDownload (expires %s):\n%s\n",
		expiry.Format("15:04:05"), url)
	return nil
}
