package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("DefaultConfig() Cache.TTL = %v, want %v", cfg.Cache.TTL, 10*time.Minute)
	}
	if cfg.Cache.MaxEntries != 256 {
		t.Errorf("DefaultConfig() Cache.MaxEntries = %d, want 256", cfg.Cache.MaxEntries)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Search.BM25Weight != 0.5 || cfg.Search.SemanticWeight != 0.5 {
		t.Errorf("DefaultConfig() search weights = %v/%v, want 0.5/0.5", cfg.Search.BM25Weight, cfg.Search.SemanticWeight)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "ms.yaml")
	configContent := `
cache:
  ttl: 120s
  max_entries: 5000
log:
  level: debug
  file: /var/log/ms.log
search:
  bm25_weight: 0.7
  semantic_weight: 0.3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadWithEnv(tmpDir, mockEnv(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Cache.TTL != 120*time.Second {
		t.Errorf("LoadWithEnv() Cache.TTL = %v, want %v", cfg.Cache.TTL, 120*time.Second)
	}
	if cfg.Cache.MaxEntries != 5000 {
		t.Errorf("LoadWithEnv() Cache.MaxEntries = %d, want 5000", cfg.Cache.MaxEntries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Search.BM25Weight != 0.7 {
		t.Errorf("LoadWithEnv() Search.BM25Weight = %v, want 0.7", cfg.Search.BM25Weight)
	}
	if cfg.Root != tmpDir {
		t.Errorf("LoadWithEnv() Root = %q, want %q (file must not override workspace root)", cfg.Root, tmpDir)
	}
}

func TestLoadEnvOverridesOutput(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"MS_PLAIN_OUTPUT": "1",
	})

	cfg, err := LoadWithEnv(tmpDir, env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Output != OutputPlain {
		t.Errorf("LoadWithEnv() Output = %q, want %q (env override)", cfg.Output, OutputPlain)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	cfg, err := LoadWithEnv(tmpDir, mockEnv(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("LoadWithEnv() without file should use default Cache.TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "ms.yaml")
	invalidContent := `
cache: [this is invalid yaml
  ttl: not a duration
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := LoadWithEnv(tmpDir, mockEnv(nil))
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "ms.yaml")
	configContent := `
cache:
  ttl: 5m
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadWithEnv(tmpDir, mockEnv(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("LoadWithEnv() Cache.TTL = %v, want %v", cfg.Cache.TTL, 5*time.Minute)
	}
	if cfg.Cache.MaxEntries != 256 {
		t.Errorf("LoadWithEnv() Cache.MaxEntries = %d, want 256 (default)", cfg.Cache.MaxEntries)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Root = "/tmp/wsroot"

	if cfg.ArchiveDir() != filepath.Join("/tmp/wsroot", "archive") {
		t.Errorf("ArchiveDir() = %q", cfg.ArchiveDir())
	}
	if cfg.DBPath() != filepath.Join("/tmp/wsroot", "ms.db") {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.LockPath() != filepath.Join("/tmp/wsroot", "ms.lock") {
		t.Errorf("LockPath() = %q", cfg.LockPath())
	}
}
