// Package holmesconfig holds the YAML-backed configuration Holmes reads
// when opening a database descriptor, mirroring the teacher's
// internal/config package shape: a root Config composing small sub-configs,
// a DefaultConfig constructor, and Load/Save helpers.
package holmesconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SQLConfig selects and tunes the relational factdb backend.
type SQLConfig struct {
	// Driver is one of "sqlite3" (mattn/go-sqlite3, the default),
	// "sqlite" (modernc.org/sqlite, pure Go), "mysql" (go-sql-driver/mysql,
	// for a shared server instance), "memory" (an in-process store with no
	// cross-reboot persistence, for tests), or "mangle" (an in-process
	// store backed by google/mangle's fact store, also non-persistent).
	Driver string `yaml:"driver"`
	// DSN is the database/sql data source name for Driver.
	DSN string `yaml:"dsn"`
	// MaxOpenConns is carried in the configuration file but is not read
	// when a store is opened: sqlstore.Open takes only a driver and DSN,
	// and caps sqlite connections at one.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// SaturationConfig tunes the scheduler's fixpoint driver.
type SaturationConfig struct {
	// Deadline, if non-zero, bounds every Quiesce call. A deadline on the
	// context passed to Quiesce also applies; whichever expires first
	// ends saturation.
	Deadline time.Duration `yaml:"deadline"`
}

// BlobConfig tunes the large-byte-blob side channel (types.LargeBytes).
type BlobConfig struct {
	// Dir is the directory large blobs are stored under, keyed by content
	// hash.
	Dir string `yaml:"dir"`
	// OpenHandleCacheSize bounds the LRU of open blob file handles.
	OpenHandleCacheSize int `yaml:"open_handle_cache_size"`
}

// LoggingConfig mirrors the teacher's config.LoggingConfig shape.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root Holmes configuration.
type Config struct {
	SQL        SQLConfig        `yaml:"sql"`
	Saturation SaturationConfig `yaml:"saturation"`
	Blob       BlobConfig       `yaml:"blob"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns Holmes's default configuration: an on-disk sqlite3
// database named by the descriptor, no saturation deadline, and a modest
// blob handle cache.
func DefaultConfig() *Config {
	return &Config{
		SQL: SQLConfig{
			Driver:       "sqlite3",
			MaxOpenConns: 4,
		},
		Blob: BlobConfig{
			OpenHandleCacheSize: 64,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load reads a YAML configuration file, unmarshalling it onto
// DefaultConfig so any field the file leaves unset keeps its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
