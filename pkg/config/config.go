package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/duynguyendang/kbfuse/pkg/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KBFUSE_"

// Config is the application configuration.
type Config struct {
	// DataDir holds the result store.
	DataDir string `yaml:"data_dir"`
	// SourceRoot resolves relative source paths.
	SourceRoot string `yaml:"source_root"`
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// MaxParallel bounds concurrent processors per run; 0 means unbounded.
	MaxParallel int `yaml:"max_parallel"`
	// MaxRuns is the number of runs kept in memory.
	MaxRuns int `yaml:"max_runs"`
	// Persist stores finished runs in DataDir.
	Persist bool `yaml:"persist"`
	// LowMemory selects the small store profile.
	LowMemory bool `yaml:"low_memory"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data",
		SourceRoot: ".",
		Listen:     ":8080",
		MaxRuns:    64,
		LogLevel:   "info",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative, got %d", c.MaxParallel)
	}
	if c.MaxRuns <= 0 {
		return fmt.Errorf("max_runs must be positive, got %d", c.MaxRuns)
	}
	if c.Persist && c.DataDir == "" {
		return fmt.Errorf("data_dir is required when persist is enabled")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// StoreConfig derives the result store configuration.
func (c *Config) StoreConfig() *store.Config {
	cfg := store.DefaultConfig(c.DataDir)
	if c.LowMemory {
		cfg.Profile = "Low-Mem"
		cfg.BlockCacheSize = 64 << 20 // 64 MB
		cfg.IndexCacheSize = 64 << 20 // 64 MB
	}
	return cfg
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	} else if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from KBFUSE_* variables read through getenv.
// PORT is honoured for the listen address as well.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	if port := getenv("PORT"); port != "" {
		c.Listen = ":" + port
	}
	str("DATA_DIR", &c.DataDir)
	str("SOURCE_ROOT", &c.SourceRoot)
	str("LISTEN", &c.Listen)
	str("LOG_LEVEL", &c.LogLevel)
	for key, dst := range map[string]*int{"MAX_PARALLEL": &c.MaxParallel, "MAX_RUNS": &c.MaxRuns} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{"PERSIST": &c.Persist, "LOW_MEMORY": &c.LowMemory} {
		if err := flag(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Load builds the configuration: defaults, then the optional YAML file,
// then .env and environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
