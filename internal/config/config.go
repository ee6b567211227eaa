// Package config loads per-repository configuration from
// .keel/config.yaml: user identity, the protected commit set, the fix
// tool, and cache sizing.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UserConfig is the identity stamped on commits and operations.
type UserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// FixConfig describes the external tool `keel fix` pipes file content
// through, and how many tool processes may run at once.
type FixConfig struct {
	Tool    []string `yaml:"tool"`
	Workers int      `yaml:"workers"`
}

// CacheConfig sizes the decoded-object LRU caches.
type CacheConfig struct {
	Objects int `yaml:"objects"`
}

// Config is the repository configuration.
type Config struct {
	User UserConfig `yaml:"user"`
	// ImmutableHeads lists commit ids whose ancestor closures are
	// protected from rewriting. The root commit is always protected,
	// even when this list is empty.
	ImmutableHeads []string    `yaml:"immutable_heads,omitempty"`
	Fix            FixConfig   `yaml:"fix,omitempty"`
	Cache          CacheConfig `yaml:"cache,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		User:  UserConfig{Name: "anonymous", Email: "anonymous@localhost"},
		Fix:   FixConfig{Workers: 4},
		Cache: CacheConfig{Objects: 1024},
	}
}

// Load reads path, falling back to defaults when the file is absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.User.Name == "" {
		return errors.New("user.name must not be empty")
	}
	if c.Fix.Workers < 0 {
		return errors.New("fix.workers must not be negative")
	}
	if c.Cache.Objects < 0 {
		return errors.New("cache.objects must not be negative")
	}
	return nil
}
