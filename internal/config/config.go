// Package config loads and validates gomu's configuration: maildir
// location, index storage paths, personal addresses, indexer tuning,
// and the ambient logging/metrics/cache settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for gomu.
type Config struct {
	Maildir MaildirConfig `koanf:"maildir"`
	Store   StoreConfig   `koanf:"store"`
	Indexer IndexerConfig `koanf:"indexer"`
	Cache   CacheConfig   `koanf:"cache"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// MaildirConfig describes the tree of maildirs being indexed.
type MaildirConfig struct {
	Root            string   `koanf:"root"`             // e.g. /home/user/Maildir
	PersonalAddress []string `koanf:"personal_address"` // "me" addresses for the contacts cache's personal flag
}

// StoreConfig holds index storage paths.
type StoreConfig struct {
	DataDir      string `koanf:"data_dir"`      // base directory for index state
	DatabasePath string `koanf:"database_path"` // sqlite database path
	ContactsPath string `koanf:"contacts_path"` // contacts cache blob path
	LockPath     string `koanf:"lock_path"`     // advisory write-lock file path
	BatchSize    int    `koanf:"batch_size"`    // documents per commit batch
}

// IndexerConfig tunes a single index run.
type IndexerConfig struct {
	MaxThreads     int  `koanf:"max_threads"`     // parser worker pool size
	IgnoreNoupdate bool `koanf:"ignore_noupdate"` // descend into .noupdate-marked dirs anyway
	LazyCheck      bool `koanf:"lazy_check"`      // trust directory mtime, skip unchanged dirs
	Force          bool `koanf:"force"`           // reindex even when store mtime looks current
	Cleanup        bool `koanf:"cleanup"`         // remove store records for vanished files after scan
}

// CacheConfig configures the optional Redis-backed contacts read-through
// cache. It is never the system of record; the contacts blob is.
type CacheConfig struct {
	Enabled  bool   `koanf:"enabled"`
	RedisURL string `koanf:"redis_url"`
	Prefix   string `koanf:"prefix"`
	TTL      string `koanf:"ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"` // e.g. 127.0.0.1:9090
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Maildir: MaildirConfig{
			Root: filepath.Join(home, "Maildir"),
		},
		Store: StoreConfig{
			DataDir:      filepath.Join(home, ".gomu"),
			DatabasePath: filepath.Join(home, ".gomu", "gomu.db"),
			ContactsPath: filepath.Join(home, ".gomu", "contacts"),
			LockPath:     filepath.Join(home, ".gomu", "lock"),
			BatchSize:    10000,
		},
		Indexer: IndexerConfig{
			MaxThreads:     4,
			IgnoreNoupdate: false,
			LazyCheck:      false,
			Force:          false,
			Cleanup:        true,
		},
		Cache: CacheConfig{
			Enabled:  false,
			RedisURL: "redis://localhost:6379/0",
			Prefix:   "gomu",
			TTL:      "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// for anything the file doesn't set. A missing file is not an error:
// it just yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Maildir.Root == "" {
		return fmt.Errorf("maildir.root is required")
	}
	if !filepath.IsAbs(c.Maildir.Root) {
		return fmt.Errorf("maildir.root must be an absolute path (got: %s)", c.Maildir.Root)
	}

	for i, addr := range c.Maildir.PersonalAddress {
		if addr == "" {
			return fmt.Errorf("maildir.personal_address[%d] must not be empty", i)
		}
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Indexer.MaxThreads < 1 {
		return fmt.Errorf("indexer.max_threads must be at least 1")
	}
	if c.Indexer.MaxThreads > 256 {
		return fmt.Errorf("indexer.max_threads cannot exceed 256")
	}

	if c.Cache.Enabled {
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.enabled is true")
		}
		if c.Cache.TTL != "" {
			d, err := time.ParseDuration(c.Cache.TTL)
			if err != nil {
				return fmt.Errorf("cache.ttl is invalid: %w", err)
			}
			if d <= 0 {
				return fmt.Errorf("cache.ttl must be positive (got: %s)", c.Cache.TTL)
			}
		}
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true, "info": true, "warn": true, "error": true,
		}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}

	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled is true")
	}

	return nil
}

func (c *Config) validateStore() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Store.ContactsPath == "" {
		return fmt.Errorf("store.contacts_path is required")
	}
	if c.Store.LockPath == "" {
		return fmt.Errorf("store.lock_path is required")
	}
	if !filepath.IsAbs(c.Store.DataDir) {
		return fmt.Errorf("store.data_dir must be an absolute path (got: %s)", c.Store.DataDir)
	}
	if !filepath.IsAbs(c.Store.DatabasePath) {
		return fmt.Errorf("store.database_path must be an absolute path (got: %s)", c.Store.DatabasePath)
	}
	if c.Store.BatchSize < 1 {
		return fmt.Errorf("store.batch_size must be at least 1")
	}
	if c.Store.BatchSize > 1_000_000 {
		return fmt.Errorf("store.batch_size cannot exceed 1000000")
	}
	return nil
}

// EnsureDirectories creates the directories gomu needs to run.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Store.DataDir,
		filepath.Dir(c.Store.DatabasePath),
		filepath.Dir(c.Store.ContactsPath),
		filepath.Dir(c.Store.LockPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// IsPersonalAddress reports whether addr (already lowercased by the
// caller) is one of the configured personal addresses.
func (c *Config) IsPersonalAddress(addr string) bool {
	for _, a := range c.Maildir.PersonalAddress {
		if a == addr {
			return true
		}
	}
	return false
}
