// Package config loads and persists wdmirror's user configuration, a
// TOML file under ~/.wdmirror by default. Flags override file values;
// the file only sets defaults for repeated runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultDirName is the per-user configuration directory.
const DefaultDirName = ".wdmirror"

// Config holds the tunables a user keeps between runs.
type Config struct {
	// RequestsPerSecond throttles all remote calls.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the rate limiter's bucket size.
	Burst int `toml:"burst"`
	// Workers bounds concurrent fetches.
	Workers int `toml:"workers"`
	// Lookahead bounds snapshot prefetch ahead of the commit loop.
	Lookahead int `toml:"lookahead"`
	// MaxAttempts bounds retries per remote call.
	MaxAttempts int `toml:"max_attempts"`
	// RenderCommand is an optional external filter run over every
	// snapshot before it is committed.
	RenderCommand string `toml:"render_command"`
	// SkipPages lists slugs never to mirror.
	SkipPages []string `toml:"skip_pages"`

	path string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RequestsPerSecond: 2.0,
		Burst:             1,
		Workers:           4,
		Lookahead:         16,
		MaxAttempts:       5,
	}
}

// Load reads the configuration from configDir, falling back to
// ~/.wdmirror. A missing file yields the defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, DefaultDirName)
	}

	cfg := Default()
	cfg.path = filepath.Join(configDir, "config.toml")

	data, err := os.ReadFile(cfg.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfg.path, err)
	}
	return cfg, nil
}

// Save persists the configuration to its file, creating the directory
// if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.path
}
