// Package config loads and defaults the workspace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how the CLI driver renders results.
type OutputFormat string

const (
	OutputHuman OutputFormat = "human"
	OutputJSON  OutputFormat = "json"
	OutputJSONL OutputFormat = "jsonl"
	OutputPlain OutputFormat = "plain"
	OutputTSV   OutputFormat = "tsv"
)

// Config is the root workspace configuration, loaded from
// <root>/ms.yaml and overridden by environment variables.
type Config struct {
	Root string `yaml:"root"`

	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
	Search      SearchConfig      `yaml:"search"`
	Disclosure  DisclosureConfig  `yaml:"disclosure"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Sync        SyncConfig        `yaml:"sync"`
	Output      OutputFormat      `yaml:"output"`
}

// CacheConfig sizes the in-memory caches: MaxEntries bounds both the
// resolver's LRU level and the search result cache; TTL applies to the
// search result cache only.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LogConfig governs structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

// SearchConfig holds the hybrid search fusion weights.
type SearchConfig struct {
	BM25Weight     float64 `yaml:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	RRFK           int     `yaml:"rrf_k"`
	FetchMultiple  int     `yaml:"fetch_multiple"`
}

// DisclosureConfig holds default pack/level settings.
type DisclosureConfig struct {
	DefaultLevel string `yaml:"default_level"`
	DefaultMode  string `yaml:"default_mode"`
}

// EmbedderConfig describes the embedding backend. appctx.Open always builds
// the hash embedder with Dims; Kind only prefixes the stored model name.
type EmbedderConfig struct {
	Kind string `yaml:"kind"` // e.g. "hash"
	Dims int    `yaml:"dims"`
}

// SyncConfig holds global sync defaults; per-remote config lives in
// remotes.json (see internal/sync).
type SyncConfig struct {
	DefaultStrategy string `yaml:"default_strategy"`
}

// DefaultConfig returns the baseline configuration before file/env overrides.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			TTL:        10 * time.Minute,
			MaxEntries: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Search: SearchConfig{
			BM25Weight:     0.5,
			SemanticWeight: 0.5,
			RRFK:           60,
			FetchMultiple:  50,
		},
		Disclosure: DisclosureConfig{
			DefaultLevel: "standard",
			DefaultMode:  "balanced",
		},
		Embedder: EmbedderConfig{
			Kind: "hash",
			Dims: 64,
		},
		Sync: SyncConfig{
			DefaultStrategy: "prefer_newest",
		},
		Output: OutputHuman,
	}
}

// Load loads configuration for workspace root using the real environment.
func Load(root string) (*Config, error) {
	return LoadWithEnv(root, os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values.
func LoadWithEnv(root string, getenv func(string) string) (*Config, error) {
	if root == "" {
		if r := getenv("MS_ROOT"); r != "" {
			root = r
		} else if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".ms")
		}
	}

	cfg := DefaultConfig()
	cfg.Root = root

	configPath := filepath.Join(root, "ms.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
		cfg.Root = root // the file must not override the workspace root
	}

	if getenv("MS_PLAIN_OUTPUT") != "" {
		cfg.Output = OutputPlain
	}
	if getenv("MS_FORCE_RICH") != "" {
		cfg.Log.Pretty = true
	}
	if getenv("NO_COLOR") != "" {
		cfg.Log.Pretty = false
	}

	return cfg, nil
}

// ArchiveDir returns the path to the content-addressed archive.
func (c *Config) ArchiveDir() string { return filepath.Join(c.Root, "archive") }

// DBPath returns the path to the SQLite index.
func (c *Config) DBPath() string { return filepath.Join(c.Root, "ms.db") }

// LockPath returns the path to the workspace advisory lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Root, "ms.lock") }

// SyncStatePath returns the path to the machine identity + last-sync record.
func (c *Config) SyncStatePath() string { return filepath.Join(c.Root, "sync_state.json") }

// RemotesPath returns the path to the remote definitions file.
func (c *Config) RemotesPath() string { return filepath.Join(c.Root, "remotes.json") }

// ConflictsPath returns the path to per-skill resolution strategy overrides.
func (c *Config) ConflictsPath() string { return filepath.Join(c.Root, "conflicts.json") }

// CustomContractsPath returns the path to user-defined pack contracts.
func (c *Config) CustomContractsPath() string { return filepath.Join(c.Root, "custom_contracts.json") }
