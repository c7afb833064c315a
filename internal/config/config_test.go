package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tally.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "true")
	cfg, err := LoadFromFile(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 7345 {
		t.Errorf("port = %d, want 7345", cfg.Server.Port)
	}
	if cfg.Cache.Path != "data/tally.db" {
		t.Errorf("cache path = %q", cfg.Cache.Path)
	}
	if time.Duration(cfg.Session.SnapshotDebounce) != 2*time.Second {
		t.Errorf("snapshot debounce = %v", time.Duration(cfg.Session.SnapshotDebounce))
	}
	if time.Duration(cfg.Session.CompactionRetention) != 24*time.Hour {
		t.Errorf("compaction retention = %v", time.Duration(cfg.Session.CompactionRetention))
	}
	if !cfg.Import.PreferIncomingImages {
		t.Error("prefer_incoming_images should default on")
	}
	if cfg.Session.Creator == "" {
		t.Error("creator should default to the hostname")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "true")
	cfg, err := LoadFromFile(writeConfig(t, `
server:
  port: 9000
session:
  creator: warehouse-pc
  snapshot_debounce: 500ms
import:
  prefer_incoming_images: false
backup:
  bucket: tally-backups
  use_ssl: false
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Session.Creator != "warehouse-pc" {
		t.Errorf("creator = %q", cfg.Session.Creator)
	}
	if time.Duration(cfg.Session.SnapshotDebounce) != 500*time.Millisecond {
		t.Errorf("debounce = %v", time.Duration(cfg.Session.SnapshotDebounce))
	}
	if cfg.Import.PreferIncomingImages {
		t.Error("yaml false lost to the default")
	}
	if cfg.Backup.UseSSL == nil || *cfg.Backup.UseSSL {
		t.Errorf("use_ssl = %v, want explicit false", cfg.Backup.UseSSL)
	}
	// Untouched sections keep their defaults.
	if cfg.Cache.Path != "data/tally.db" {
		t.Errorf("cache path = %q", cfg.Cache.Path)
	}
}

func TestLoadFromFile_EnvBeatsYAML(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "true")
	t.Setenv("TALLY_PORT", "7777")
	t.Setenv("TALLY_CREATOR", "env-creator")
	t.Setenv("TALLY_LOG_URL", "http://localhost:7345")
	t.Setenv("TALLY_IMPORT_IGNORE_QTY", "1")
	t.Setenv("TALLY_COMPACTION_INTERVAL", "90m")

	cfg, err := LoadFromFile(writeConfig(t, `
server:
  port: 9000
session:
  creator: yaml-creator
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, env should win", cfg.Server.Port)
	}
	if cfg.Session.Creator != "env-creator" {
		t.Errorf("creator = %q, env should win", cfg.Session.Creator)
	}
	if cfg.Session.LogURL != "http://localhost:7345" {
		t.Errorf("log url = %q", cfg.Session.LogURL)
	}
	if !cfg.Import.IgnoreQty {
		t.Error("TALLY_IMPORT_IGNORE_QTY=1 not applied")
	}
	if time.Duration(cfg.Session.CompactionInterval) != 90*time.Minute {
		t.Errorf("compaction interval = %v", time.Duration(cfg.Session.CompactionInterval))
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "true")
	if _, err := LoadFromFile(writeConfig(t, "session:\n  snapshot_debounce: soon\n")); err == nil {
		t.Error("invalid duration accepted")
	}
}

func TestValidate_APIKeyRequiredOutsideDevMode(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "")
	t.Setenv("TALLY_API_KEY", "")

	if _, err := LoadFromFile(writeConfig(t, "{}\n")); err == nil {
		t.Error("missing api key accepted outside dev mode")
	}

	t.Setenv("TALLY_API_KEY", "secret")
	cfg, err := LoadFromFile(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("api key = %q", cfg.Auth.APIKey)
	}
}

func TestValidate_BackupCredentialsRequiredWithBucket(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "")
	t.Setenv("TALLY_API_KEY", "secret")
	t.Setenv("TALLY_BACKUP_ACCESS_KEY", "")
	t.Setenv("TALLY_BACKUP_SECRET_KEY", "")

	if _, err := LoadFromFile(writeConfig(t, "backup:\n  bucket: tally-backups\n")); err == nil {
		t.Error("backup bucket without credentials accepted")
	}

	t.Setenv("TALLY_BACKUP_ACCESS_KEY", "ak")
	t.Setenv("TALLY_BACKUP_SECRET_KEY", "sk")
	cfg, err := LoadFromFile(writeConfig(t, "backup:\n  bucket: tally-backups\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backup.AccessKey != "ak" || cfg.Backup.SecretKey != "sk" {
		t.Errorf("backup credentials = %q/%q", cfg.Backup.AccessKey, cfg.Backup.SecretKey)
	}
}

func TestDevModeSkipsValidation(t *testing.T) {
	t.Setenv("TALLY_DEV_MODE", "true")
	t.Setenv("TALLY_API_KEY", "")

	if _, err := LoadFromFile(writeConfig(t, "{}\n")); err != nil {
		t.Errorf("dev mode should not require an api key: %v", err)
	}
}
