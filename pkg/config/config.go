// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the feed server configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// FileName is the configuration file looked up by Find.
const FileName = "nugetfeed.toml"

// Storage backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Listen         string  `toml:"listen"`
	BaseURL        string  `toml:"base_url"`
	LogLevel       string  `toml:"log_level"`
	RaceCheck      bool    `toml:"race_check"`
	APIKey         string  `toml:"api_key,omitempty"`
	MaxPackageSize int64   `toml:"max_package_size,omitempty"`
	Storage        Storage `toml:"storage"`
	Cache          Cache   `toml:"cache"`
}

type Storage struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type Cache struct {
	ManifestTTL time.Duration `toml:"manifest_ttl"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		BaseURL:   "http://localhost:8080",
		LogLevel:  "info",
		RaceCheck: true,
		Storage: Storage{
			Backend: BackendFS,
			Path:    "./data",
		},
		Cache: Cache{ManifestTTL: 10 * time.Minute},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Find walks up from startDir looking for FileName. It returns
// os.ErrNotExist if there is none.
func Find(startDir string) (string, error) {
	dir := filepath.Clean(startDir)
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// Save writes c to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// Validate checks field values that decoding cannot.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.ParsedBaseURL(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendFS, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %q backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Cache.ManifestTTL < 0 {
		return fmt.Errorf("cache.manifest_ttl must not be negative")
	}
	if c.MaxPackageSize < 0 {
		return fmt.Errorf("max_package_size must not be negative")
	}
	return nil
}

// ParsedBaseURL returns BaseURL as an absolute URL.
func (c *Config) ParsedBaseURL() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base_url %q must be absolute", c.BaseURL)
	}
	return u, nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
