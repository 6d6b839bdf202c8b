// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
	"github.com/yeetrun/nugetfeed/pkg/nuget/nugettest"
	"github.com/yeetrun/nugetfeed/pkg/store"
)

// snapshot returns every non-staged blob in s.
func snapshot(t *testing.T, s store.Store) map[string]string {
	t.Helper()
	keys, err := s.List(context.Background(), "")
	require.NoError(t, err)
	out := make(map[string]string)
	for _, k := range keys {
		if strings.HasPrefix(k, StagingPrefix) {
			continue
		}
		b, err := s.Get(context.Background(), k)
		require.NoError(t, err)
		out[k] = string(b)
	}
	return out
}

func staged(t *testing.T, s store.Store) []string {
	t.Helper()
	keys, err := s.List(context.Background(), StagingPrefix)
	require.NoError(t, err)
	return keys
}

func TestAddRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{})

	spec := nugettest.Spec{ID: "Foo", Version: "1.2.3"}
	archive := nugettest.Package(t, spec)
	id, err := repo.Add(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "Foo 1.2.3", id.String())

	data, ok, err := repo.Content(ctx, id.PackageKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, archive, data)

	sidecar, ok, err := repo.Content(ctx, id.HashKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, nuget.ComputeHash(archive).Base64(), string(sidecar))

	manifest, ok, err := repo.Content(ctx, id.ManifestKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, nugettest.Nuspec(spec), manifest)

	ix, err := repo.Versions(ctx, nuget.MustPackageID("FOO"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3"}, ix.Entries())

	m, err := repo.Nuspec(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Foo", m.ID.Original())

	assert.Empty(t, staged(t, s), "a successful publish moves its staged upload")
	assert.Equal(t, []string{
		"foo/1.2.3/foo.1.2.3.nupkg",
		"foo/1.2.3/foo.1.2.3.nupkg.sha512",
		"foo/1.2.3/foo.nuspec",
		"foo/index.json",
	}, mustList(t, s, "foo/"))
}

func mustList(t *testing.T, s store.Store, prefix string) []string {
	t.Helper()
	keys, err := s.List(context.Background(), prefix)
	require.NoError(t, err)
	return keys
}

func TestAddMultipleVersions(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{})
	for _, v := range []string{"2.0.0", "1.0.0-beta", "1.0.0", "1.0.0.0001"} {
		_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", v))
		require.NoError(t, err, v)
	}
	ix, err := repo.Versions(ctx, nuget.MustPackageID("foo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0", "1.0.0-beta", "1.0.0", "1.0.0.1"}, ix.Entries())

	all, err := ix.All()
	require.NoError(t, err)
	var sorted []string
	for _, v := range all {
		sorted = append(sorted, v.Normalized())
	}
	assert.Equal(t, []string{"1.0.0-beta", "1.0.0", "1.0.0.1", "2.0.0"}, sorted)
}

func TestAddDuplicate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{})

	_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0"))
	require.NoError(t, err)
	before := snapshot(t, s)

	for _, dup := range [][]byte{
		nugettest.Package(t, nugettest.Spec{ID: "Foo", Version: "1.0.0", Description: "different bytes"}),
		nugettest.Simple(t, "FOO", "1.0.0"),
		nugettest.Simple(t, "foo", "1.0.0+build"),
		nugettest.Simple(t, "foo", "01.0.0"),
	} {
		_, err := repo.Add(ctx, dup)
		require.Error(t, err)
		assert.ErrorIs(t, err, nuget.ErrVersionExists)
		var exists *nuget.PackageVersionAlreadyExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, "1.0.0", exists.Identity.Version.Normalized())
	}
	assert.Equal(t, before, snapshot(t, s), "rejected publishes must not change visible state")
}

func TestAddInvalidPackage(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{})

	for name, archive := range map[string][]byte{
		"garbage":    []byte("not a zip"),
		"no nuspec":  nugettest.Archive(t, []string{"a.txt"}, map[string][]byte{"a.txt": nil}),
		"bad id":     nugettest.Simple(t, "../etc", "1.0.0"),
		"no version": nugettest.Simple(t, "Foo", "1"),
	} {
		_, err := repo.Add(ctx, archive)
		assert.ErrorIs(t, err, nuget.ErrInvalidPackage, name)
	}
	assert.Empty(t, snapshot(t, s))
	assert.Len(t, staged(t, s), 4, "rejected uploads stay staged")
}

// barrierStore holds the first n List calls until all n have arrived, so
// that concurrent publishes all pass their first existence probe. Each held
// call answers with what the store held when it arrived.
type barrierStore struct {
	*store.Memory

	mu      sync.Mutex
	n       int
	calls   int
	arrived chan struct{}
}

func newBarrierStore(n int) *barrierStore {
	return &barrierStore{Memory: store.NewMemory(), n: n, arrived: make(chan struct{})}
}

func (b *barrierStore) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	if call == b.n {
		close(b.arrived)
	}
	b.mu.Unlock()
	keys, err := b.Memory.List(ctx, prefix)
	if call <= b.n {
		select {
		case <-b.arrived:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return keys, err
}

func racePublish(t *testing.T, opts Options) (*barrierStore, []error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := newBarrierStore(2)
	repo := New(s, opts)
	archives := [][]byte{
		nugettest.Package(t, nugettest.Spec{ID: "Foo", Version: "1.0.0", Description: "first"}),
		nugettest.Package(t, nugettest.Spec{ID: "Foo", Version: "1.0.0", Description: "second"}),
	}
	errs := make([]error, len(archives))
	var wg sync.WaitGroup
	for i, a := range archives {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.Add(ctx, a)
		}()
	}
	wg.Wait()
	return s, errs
}

func TestAddRaceWithRecheck(t *testing.T) {
	s, errs := racePublish(t, Options{})

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, nuget.ErrVersionExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	ix, err := nuget.LoadVersionIndex(context.Background(), s, nuget.MustPackageID("Foo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, ix.Entries())
	assert.Len(t, staged(t, s), 1, "the losing upload stays staged")
}

// Without the second probe both publishes pass the first one, then take the
// lock in turn. The later one overwrites the earlier one's files and the
// version ends up listed twice.
func TestAddRaceWithoutRecheck(t *testing.T) {
	s, errs := racePublish(t, Options{SkipRecheck: true})
	for _, err := range errs {
		require.NoError(t, err)
	}
	ix, err := nuget.LoadVersionIndex(context.Background(), s, nuget.MustPackageID("Foo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.0.0"}, ix.Entries())
	assert.Empty(t, staged(t, s))
	assert.Len(t, mustList(t, s, "foo/1.0.0/"), 3)
}

func TestAddConcurrentVersionsSameID(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{})
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", fmt.Sprintf("1.0.%d", i)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	ix, err := repo.Versions(ctx, nuget.MustPackageID("Foo"))
	require.NoError(t, err)
	assert.Equal(t, n, ix.Len(), "every index update must survive")
}

// gateStore blocks the exclusive section of one prefix until released.
type gateStore struct {
	*store.Memory

	prefix  string
	entered chan struct{}
	release chan struct{}
}

func (g *gateStore) Exclusive(ctx context.Context, prefix string, fn func(context.Context) error) error {
	return g.Memory.Exclusive(ctx, prefix, func(ctx context.Context) error {
		if prefix == g.prefix {
			close(g.entered)
			<-g.release
		}
		return fn(ctx)
	})
}

func TestAddDifferentIDsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	s := &gateStore{
		Memory:  store.NewMemory(),
		prefix:  nuget.MustPackageID("Slow").RootKey(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := New(s, Options{})

	slowDone := make(chan error, 1)
	go func() {
		_, err := repo.Add(ctx, nugettest.Simple(t, "Slow", "1.0.0"))
		slowDone <- err
	}()
	<-s.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := repo.Add(ctx, nugettest.Simple(t, "Fast", "1.0.0"))
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish of Fast waited on Slow's exclusive section")
	}

	close(s.release)
	require.NoError(t, <-slowDone)
}

// failStore fails Put for one key.
type failStore struct {
	*store.Memory
	key string
}

func (f *failStore) Put(ctx context.Context, key string, data []byte) error {
	if key == f.key {
		return errors.New("disk full")
	}
	return f.Memory.Put(ctx, key, data)
}

func TestAddPartialFailureIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	id := nuget.NewIdentity(nuget.MustPackageID("Foo"), nuget.MustParseVersion("1.0.0"))
	s := &failStore{Memory: store.NewMemory(), key: id.ManifestKey()}
	repo := New(s, Options{})

	_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	ok, err := s.Exists(ctx, id.PackageKey())
	require.NoError(t, err)
	assert.True(t, ok, "binary written before the failure stays")
	ok, err = s.Exists(ctx, id.ID.IndexKey())
	require.NoError(t, err)
	assert.False(t, ok, "index is not updated after a failed write")

	_, err = repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0"))
	assert.ErrorIs(t, err, nuget.ErrVersionExists, "partial state blocks a retry")
}

func TestAddContextCancelledWhileWaiting(t *testing.T) {
	s := &gateStore{
		Memory:  store.NewMemory(),
		prefix:  nuget.MustPackageID("Foo").RootKey(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := New(s, Options{})
	go repo.Add(context.Background(), nugettest.Simple(t, "Foo", "1.0.0"))
	<-s.entered
	defer close(s.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "2.0.0"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContentMissing(t *testing.T) {
	repo := New(store.NewMemory(), Options{})
	data, ok, err := repo.Content(context.Background(), "foo/1.0.0/foo.1.0.0.nupkg")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestNuspecNotFound(t *testing.T) {
	repo := New(store.NewMemory(), Options{})
	id := nuget.NewIdentity(nuget.MustPackageID("Foo"), nuget.MustParseVersion("1.0.0"))
	_, err := repo.Nuspec(context.Background(), id)
	assert.ErrorIs(t, err, nuget.ErrNotFound)
}

func TestNuspecCache(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{ManifestTTL: time.Minute})
	id, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0"))
	require.NoError(t, err)

	first, err := repo.Nuspec(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, id.ManifestKey(), []byte("<garbage")))
	second, err := repo.Nuspec(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second, "served from the cache")

	uncached := New(s, Options{})
	_, err = uncached.Nuspec(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, nuget.ErrInvalidPackage)
}

func TestNuspecCachedManifestIsNotShared(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{ManifestTTL: time.Minute})
	id, err := repo.Add(ctx, nugettest.Package(t, nugettest.Spec{
		ID:      "Foo",
		Version: "1.0.0",
		Deps:    []nugettest.Dep{{ID: "Bar", Version: "2.0", Framework: "net6.0"}},
		Extra:   `<license type="expression">MIT</license>`,
	}))
	require.NoError(t, err)

	for range 2 {
		m, err := repo.Nuspec(ctx, id)
		require.NoError(t, err)
		require.Len(t, m.Dependencies, 1)
		assert.Equal(t, "Bar", m.Dependencies[0].ID)
		assert.Equal(t, "MIT", m.License.Value)
		m.Dependencies[0].ID = "Changed"
		m.Dependencies = append(m.Dependencies, nuget.Dependency{ID: "Extra"})
		m.License.Value = "GPL-3.0-only"
	}

	reg, err := repo.Registration(ctx, id.ID, contentBase)
	require.NoError(t, err)
	entry := reg.Items[0].Items[0].CatalogEntry
	assert.Equal(t, []DependencyGroup{{
		TargetFramework: "net6.0",
		Dependencies:    []Dependency{{ID: "Bar", Range: "[2.0, )"}},
	}}, entry.DependencyGroups)
	assert.Equal(t, "MIT", entry.LicenseExpression)
}

// Versions that compare equal but normalize differently ("1.0" keeps no
// patch) get separate keys, so both publish and both are listed.
func TestAddEqualVersionsWithDifferentForms(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{})
	short, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0"))
	require.NoError(t, err)
	long, err := repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0"))
	require.NoError(t, err)

	assert.True(t, short.Version.Equal(long.Version))
	assert.NotEqual(t, short.PackageKey(), long.PackageKey())

	_, err = repo.Add(ctx, nugettest.Simple(t, "Foo", "1.0.0.0"))
	assert.ErrorIs(t, err, nuget.ErrVersionExists, "1.0.0.0 normalizes to 1.0.0")

	reg, err := repo.Registration(ctx, nuget.MustPackageID("Foo"), contentBase)
	require.NoError(t, err)
	require.Len(t, reg.Items, 1)
	page := reg.Items[0]
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, "1.0", page.Lower)
	assert.Equal(t, "1.0.0", page.Upper)
}
