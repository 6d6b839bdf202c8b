// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shayne/yargs"

	"github.com/yeetrun/nugetfeed/pkg/config"
	"github.com/yeetrun/nugetfeed/pkg/feed"
	"github.com/yeetrun/nugetfeed/pkg/registry"
	"github.com/yeetrun/nugetfeed/pkg/store"
)

type serveFlagsParsed struct {
	Listen      string `flag:"listen" help:"Address to listen on"`
	BaseURL     string `flag:"base-url" help:"Externally visible feed URL"`
	Storage     string `flag:"storage" help:"Storage backend: fs, sqlite or memory"`
	Data        string `flag:"data" help:"Directory (fs) or database file (sqlite)"`
	APIKey      string `flag:"api-key" help:"Require this key on publish"`
	NoRaceCheck bool   `flag:"no-race-check" help:"Skip the duplicate re-check inside the publish lock"`
}

// apply overrides cfg with the flags that were given.
func (f serveFlagsParsed) apply(cfg *config.Config) {
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	if f.BaseURL != "" {
		cfg.BaseURL = f.BaseURL
	}
	if f.Storage != "" {
		cfg.Storage.Backend = f.Storage
	}
	if f.Data != "" {
		cfg.Storage.Path = f.Data
	}
	if f.APIKey != "" {
		cfg.APIKey = f.APIKey
	}
	if f.NoRaceCheck {
		cfg.RaceCheck = false
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the backend cfg selects. The returned closer is never nil.
func openStore(cfg *config.Config) (store.Store, io.Closer, error) {
	var nop nopCloser
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nop, nil
	case config.BackendFS:
		s, err := store.NewFilesystem(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nop, nil
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newServer builds the feed server described by cfg.
func newServer(cfg *config.Config, logOut io.Writer) (*registry.Server, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	base, err := cfg.ParsedBaseURL()
	if err != nil {
		return nil, nil, err
	}
	s, closer, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	logger := newLogger(logOut, cfg)
	repo := feed.New(s, feed.Options{
		Logger:      logger.WithPrefix("feed"),
		SkipRecheck: !cfg.RaceCheck,
		ManifestTTL: cfg.Cache.ManifestTTL,
	})
	srv := registry.New(repo, registry.Config{
		BaseURL:        base,
		APIKey:         cfg.APIKey,
		MaxPackageSize: cfg.MaxPackageSize,
		Logger:         logger.WithPrefix("http"),
	})
	if !cfg.RaceCheck {
		logger.Warn("duplicate re-check disabled; concurrent publishes of one version may both succeed")
	}
	logger.Info("storage opened", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)
	return srv, closer, nil
}

func handleServe(ctx context.Context, args []string) error {
	args = stripCommand(args, "serve")
	result, err := yargs.ParseFlags[serveFlagsParsed](args)
	if err != nil {
		return err
	}
	if len(result.Args) > 0 {
		return fmt.Errorf("serve takes no arguments")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	result.Flags.apply(cfg)
	srv, closer, err := newServer(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	return srv.ListenAndServe(ctx, cfg.Listen)
}
