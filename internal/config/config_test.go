package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.BatchSize != DefaultConfig().Store.BatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.Store.BatchSize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gomu.yaml")
	yaml := `
maildir:
  root: /home/u/Maildir
  personal_address:
    - u@example.com
store:
  batch_size: 500
indexer:
  max_threads: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Maildir.Root != "/home/u/Maildir" {
		t.Errorf("Maildir.Root = %q", cfg.Maildir.Root)
	}
	if len(cfg.Maildir.PersonalAddress) != 1 || cfg.Maildir.PersonalAddress[0] != "u@example.com" {
		t.Errorf("PersonalAddress = %v", cfg.Maildir.PersonalAddress)
	}
	if cfg.Store.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.Store.BatchSize)
	}
	if cfg.Indexer.MaxThreads != 8 {
		t.Errorf("MaxThreads = %d, want 8", cfg.Indexer.MaxThreads)
	}
	// untouched fields keep their defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestValidateRejectsRelativeMaildirRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maildir.Root = "relative/path"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative maildir root")
	}
}

func TestValidateRejectsEmptyPersonalAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maildir.PersonalAddress = []string{""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty personal address")
	}
}

func TestValidateRejectsBadBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}

func TestValidateRejectsZeroThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Indexer.MaxThreads = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_threads")
	}
}

func TestValidateCacheRequiresRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.RedisURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing redis_url when cache enabled")
	}
}

func TestValidateMetricsRequiresListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing listen addr when metrics enabled")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestIsPersonalAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maildir.PersonalAddress = []string{"me@example.com"}
	if !cfg.IsPersonalAddress("me@example.com") {
		t.Fatal("expected match")
	}
	if cfg.IsPersonalAddress("other@example.com") {
		t.Fatal("expected no match")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store.DataDir = filepath.Join(dir, "data")
	cfg.Store.DatabasePath = filepath.Join(dir, "data", "gomu.db")
	cfg.Store.ContactsPath = filepath.Join(dir, "data", "contacts")
	cfg.Store.LockPath = filepath.Join(dir, "data", "lock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(cfg.Store.DataDir); err != nil {
		t.Fatalf("expected data dir to exist: %v", err)
	}
}
