// Package store persists finished pipeline runs in BadgerDB.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Config holds the configuration for BadgerDB.
type Config struct {
	// DataDir is the directory where BadgerDB will store its data.
	DataDir string `yaml:"data_dir"`

	// InMemory enables in-memory mode (useful for testing).
	InMemory bool `yaml:"in_memory"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// IndexCacheSize is the size of the index cache in bytes.
	IndexCacheSize int64 `yaml:"index_cache_size"`

	// Compression enables ZSTD compression of tables. Graph payloads are
	// s2-compressed regardless.
	Compression bool `yaml:"compression"`

	// SyncWrites enables synchronous writes.
	SyncWrites bool `yaml:"sync_writes"`

	// Profile specifies the resource profile ("Safe-Serving", "Low-Mem").
	// Defaults to "Safe-Serving" if empty.
	Profile string `yaml:"profile"`

	// ReadOnly enables read-only mode.
	ReadOnly bool `yaml:"read_only"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("DataDir must be specified when InMemory is false")
	}
	if c.BlockCacheSize <= 0 {
		return fmt.Errorf("BlockCacheSize must be positive, got %d", c.BlockCacheSize)
	}
	if c.IndexCacheSize <= 0 {
		return fmt.Errorf("IndexCacheSize must be positive, got %d", c.IndexCacheSize)
	}
	switch c.Profile {
	case "", "Safe-Serving", "Low-Mem":
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	return nil
}

// DefaultConfig returns a configuration sized for a single server.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BlockCacheSize: 256 << 20, // 256MB
		IndexCacheSize: 128 << 20, // 128MB
		Compression:    true,
		Profile:        "Safe-Serving",
	}
}

// buildBadgerOptions converts Config to badger.Options based on Profile.
func buildBadgerOptions(cfg *Config) badger.Options {
	if cfg.InMemory {
		opts := badger.DefaultOptions("")
		opts.InMemory = true
		opts.Logger = nil
		return opts
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.DataDir, "badger"))
	opts.Logger = nil
	opts.BloomFalsePositive = 0.01
	opts.ReadOnly = cfg.ReadOnly

	if cfg.Compression {
		opts.Compression = options.ZSTD
	} else {
		opts.Compression = options.None
	}

	switch cfg.Profile {
	case "Low-Mem":
		opts.ValueLogFileSize = 32 << 20 // 32MB
		opts.NumCompactors = 2
		opts.MemTableSize = 16 << 20
		opts.NumMemtables = 2
	default:
		// Badger v4 requires at least 2 compactors.
		opts.ValueLogFileSize = 64 << 20 // 64MB
		opts.NumCompactors = 2
	}

	opts.BlockCacheSize = cfg.BlockCacheSize
	opts.IndexCacheSize = cfg.IndexCacheSize
	opts.SyncWrites = cfg.SyncWrites
	return opts
}

// openBadgerDB opens a BadgerDB instance with the given configuration.
func openBadgerDB(cfg *Config) (*badger.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return badger.Open(buildBadgerOptions(cfg))
}
