// Package config loads the application configuration with precedence:
// built-in defaults, then the YAML file, then environment variables. A
// .env file in the working directory is folded into the environment
// first, so local development does not need exported shell variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
	Import  ImportConfig  `yaml:"import"`
	Backup  BackupConfig  `yaml:"backup"`
	Auth    AuthConfig    `yaml:"-"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains dev log service settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// CacheConfig contains the local durable store settings.
type CacheConfig struct {
	// Path is the SQLite database file. Empty disables the cache; the
	// session then replays the full log on every start.
	Path string `yaml:"path"`
}

// SessionConfig contains reconciliation and maintenance settings.
type SessionConfig struct {
	// Creator is the name stamped on actions appended by this machine.
	Creator string `yaml:"creator"`
	// LogURL points a session at a remote log service instead of the
	// in-process log. Empty means in-process.
	LogURL string `yaml:"log_url"`
	// SnapshotDebounce is the quiet period before a snapshot save.
	SnapshotDebounce Duration `yaml:"snapshot_debounce"`
	// CompactionInterval is how often cached actions older than the
	// snapshot cursor are pruned. Zero disables compaction.
	CompactionInterval Duration `yaml:"compaction_interval"`
	// CompactionRetention keeps this much history behind the cursor.
	CompactionRetention Duration `yaml:"compaction_retention"`
}

// ImportConfig carries the default adoption toggles for batch imports.
type ImportConfig struct {
	PreferIncomingDescription bool `yaml:"prefer_incoming_description"`
	PreferIncomingImages      bool `yaml:"prefer_incoming_images"`
	IgnoreQty                 bool `yaml:"ignore_qty"`
}

// BackupConfig contains S3-compatible snapshot backup settings.
// An empty bucket disables backups entirely.
type BackupConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	Interval  Duration `yaml:"interval"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := newDefaults()

	configPath := getEnv("TALLY_CONFIG_PATH", "config/tally.yaml")

	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7345,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Cache: CacheConfig{
			Path: "data/tally.db",
		},
		Session: SessionConfig{
			Creator:             defaultCreator(),
			SnapshotDebounce:    Duration(2 * time.Second),
			CompactionInterval:  Duration(6 * time.Hour),
			CompactionRetention: Duration(24 * time.Hour),
		},
		Import: ImportConfig{
			PreferIncomingImages: true,
		},
		Backup: BackupConfig{
			Region:   "us-east-1",
			Prefix:   "tally",
			Interval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultCreator() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "tally"
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TALLY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TALLY_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TALLY_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TALLY_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Cache
	if v := os.Getenv("TALLY_DB_PATH"); v != "" {
		cfg.Cache.Path = v
	}

	// Session
	if v := os.Getenv("TALLY_CREATOR"); v != "" {
		cfg.Session.Creator = v
	}
	if v := os.Getenv("TALLY_LOG_URL"); v != "" {
		cfg.Session.LogURL = v
	}
	if v := os.Getenv("TALLY_SNAPSHOT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.SnapshotDebounce = Duration(d)
		}
	}
	if v := os.Getenv("TALLY_COMPACTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.CompactionInterval = Duration(d)
		}
	}
	if v := os.Getenv("TALLY_COMPACTION_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.CompactionRetention = Duration(d)
		}
	}

	// Import
	if v := os.Getenv("TALLY_IMPORT_PREFER_DESCRIPTION"); v != "" {
		cfg.Import.PreferIncomingDescription = v == "true" || v == "1"
	}
	if v := os.Getenv("TALLY_IMPORT_PREFER_IMAGES"); v != "" {
		cfg.Import.PreferIncomingImages = v == "true" || v == "1"
	}
	if v := os.Getenv("TALLY_IMPORT_IGNORE_QTY"); v != "" {
		cfg.Import.IgnoreQty = v == "true" || v == "1"
	}

	// Backup
	if v := os.Getenv("TALLY_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("TALLY_BACKUP_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("TALLY_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("TALLY_BACKUP_PREFIX"); v != "" {
		cfg.Backup.Prefix = v
	}
	if v := os.Getenv("TALLY_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("TALLY_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("TALLY_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("TALLY_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TALLY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (TALLY_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("TALLY_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("TALLY_API_KEY is required")
	}
	if c.Backup.Bucket != "" && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return errors.New("TALLY_BACKUP_ACCESS_KEY and TALLY_BACKUP_SECRET_KEY are required when a backup bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
