// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package feed implements package publishing and lookup on top of a
// store.Store.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
	"github.com/yeetrun/nugetfeed/pkg/store"
)

// StagingPrefix is where uploads are written before validation. Package ids
// never start with a dot, so staged keys cannot collide with package keys.
const StagingPrefix = ".staging/"

// Options configures a Repository.
type Options struct {
	// Logger receives publish events. Nil discards them.
	Logger *log.Logger

	// SkipRecheck disables the duplicate probe that runs inside the
	// exclusive section. With it set, two concurrent publishes of the same
	// new version can both succeed; the second overwrites the first and the
	// version is listed twice in the index.
	SkipRecheck bool

	// ManifestTTL is how long parsed manifests are cached. Zero disables
	// the cache.
	ManifestTTL time.Duration
}

// Repository publishes packages and serves their content and metadata.
type Repository struct {
	store       store.Store
	log         *log.Logger
	skipRecheck bool
	manifests   *gocache.Cache
}

// New returns a Repository over s.
func New(s store.Store, opts Options) *Repository {
	r := &Repository{
		store:       s,
		log:         opts.Logger,
		skipRecheck: opts.SkipRecheck,
	}
	if r.log == nil {
		r.log = log.New(io.Discard)
	}
	if opts.ManifestTTL > 0 {
		r.manifests = gocache.New(opts.ManifestTTL, 2*opts.ManifestTTL)
	}
	return r
}

// Store returns the underlying store.
func (r *Repository) Store() store.Store { return r.store }

// Add publishes a package archive and returns its identity.
//
// The archive is staged, validated and checked for an existing version
// before the package id's exclusive section is entered. Inside the section
// the binary, hash sidecar and manifest are written concurrently, then the
// version index is updated. A failure inside the section is not rolled back:
// writes that already completed stay in place.
func (r *Repository) Add(ctx context.Context, pkg []byte) (nuget.Identity, error) {
	staged := StagingPrefix + uuid.NewString()
	if err := r.store.Put(ctx, staged, pkg); err != nil {
		return nuget.Identity{}, fmt.Errorf("stage upload: %w", err)
	}
	r.log.Debug("staged upload", "key", staged, "size", len(pkg))

	m, err := nuget.ExtractManifest(pkg)
	if err != nil {
		r.log.Info("rejected upload", "key", staged, "err", err)
		return nuget.Identity{}, err
	}
	id := m.Identity()
	if err := r.probe(ctx, id); err != nil {
		return id, err
	}

	err = r.store.Exclusive(ctx, id.ID.RootKey(), func(ctx context.Context) error {
		if !r.skipRecheck {
			if err := r.probe(ctx, id); err != nil {
				return err
			}
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := r.store.Move(gctx, staged, id.PackageKey()); err != nil {
				return fmt.Errorf("move package: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return nuget.ComputeHash(pkg).Persist(gctx, r.store, id)
		})
		g.Go(func() error {
			if err := r.store.Put(gctx, id.ManifestKey(), m.Bytes()); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		ix, err := nuget.LoadVersionIndex(ctx, r.store, id.ID)
		if err != nil {
			return err
		}
		return ix.Append(id.Version).Save(ctx, r.store, id.ID.IndexKey())
	})
	if err != nil {
		if !errors.Is(err, nuget.ErrVersionExists) {
			r.log.Error("publish failed", "purl", id.PURL(), "err", err)
		}
		return id, err
	}
	r.log.Info("package published", "purl", id.PURL())
	return id, nil
}

// probe fails with *PackageVersionAlreadyExistsError if anything is stored
// under the identity's root.
func (r *Repository) probe(ctx context.Context, id nuget.Identity) error {
	existing, err := r.store.List(ctx, id.RootKey()+"/")
	if err != nil {
		return fmt.Errorf("probe %s: %w", id, err)
	}
	if len(existing) > 0 {
		r.log.Info("duplicate publish rejected", "purl", id.PURL())
		return &nuget.PackageVersionAlreadyExistsError{Identity: id}
	}
	return nil
}

// Content returns the blob stored under key. ok is false if there is none.
func (r *Repository) Content(ctx context.Context, key string) (data []byte, ok bool, err error) {
	exists, err := r.store.Exists(ctx, key)
	if err != nil || !exists {
		return nil, false, err
	}
	data, err = r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Versions returns the version index of id.
func (r *Repository) Versions(ctx context.Context, id nuget.PackageID) (nuget.VersionIndex, error) {
	return nuget.LoadVersionIndex(ctx, r.store, id)
}

// Nuspec returns the stored manifest of id, or a *nuget.NotFoundError.
// Each call returns a manifest the caller may modify.
func (r *Repository) Nuspec(ctx context.Context, id nuget.Identity) (*nuget.Manifest, error) {
	key := id.ManifestKey()
	if r.manifests != nil {
		if v, ok := r.manifests.Get(key); ok {
			if m, ok := v.(*nuget.Manifest); ok {
				return m.Clone(), nil
			}
		}
	}
	b, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotExist) {
		return nil, &nuget.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := nuget.ParseManifest(b)
	if err != nil {
		// A stored manifest was valid when it was published.
		return nil, fmt.Errorf("parse stored manifest %s: %v", key, err)
	}
	if r.manifests != nil {
		r.manifests.Set(key, m.Clone(), gocache.DefaultExpiration)
	}
	return m, nil
}
