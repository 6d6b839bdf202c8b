// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
	"github.com/yeetrun/nugetfeed/pkg/nuget/nugettest"
	"github.com/yeetrun/nugetfeed/pkg/store"
)

type testLocation struct{ base *url.URL }

func (l testLocation) URLFor(id nuget.Identity) *url.URL {
	return l.base.JoinPath(id.PackageKey())
}

var contentBase = testLocation{base: &url.URL{Scheme: "https", Host: "feed.example", Path: "/v3/content"}}

func TestRegistrationEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{})
	_, err := repo.Add(ctx, nugettest.Package(t, nugettest.Spec{
		ID:          "Foo",
		Version:     "1.2.3",
		Description: "The foo package.",
		Authors:     "Ann",
		Deps:        []nugettest.Dep{{ID: "Bar", Version: "2.0", Framework: "net6.0"}},
	}))
	require.NoError(t, err)

	got, err := repo.Registration(ctx, nuget.MustPackageID("foo"), contentBase)
	require.NoError(t, err)

	want := Registration{
		Count: 1,
		Items: []RegistrationPage{{
			Lower: "1.2.3",
			Upper: "1.2.3",
			Count: 1,
			Items: []RegistrationItem{{
				CatalogEntry: CatalogEntry{
					ID:          "Foo",
					Version:     "1.2.3",
					Description: "The foo package.",
					Authors:     Authors{"Ann"},
					DependencyGroups: []DependencyGroup{{
						TargetFramework: "net6.0",
						Dependencies:    []Dependency{{ID: "Bar", Range: "[2.0, )"}},
					}},
					PURL: "pkg:nuget/Foo@1.2.3",
				},
				PackageContent: "https://feed.example/v3/content/foo/1.2.3/foo.1.2.3.nupkg",
			}},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("registration mismatch (-want +got):\n%s", diff)
	}

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"count": 1,
		"items": [{
			"lower": "1.2.3",
			"upper": "1.2.3",
			"count": 1,
			"items": [{
				"catalogEntry": {
					"id": "Foo",
					"version": "1.2.3",
					"description": "The foo package.",
					"authors": "Ann",
					"dependencyGroups": [{
						"targetFramework": "net6.0",
						"dependencies": [{"id": "Bar", "range": "[2.0, )"}]
					}],
					"purl": "pkg:nuget/Foo@1.2.3"
				},
				"packageContent": "https://feed.example/v3/content/foo/1.2.3/foo.1.2.3.nupkg"
			}]
		}]
	}`, string(b))
}

func TestRegistrationOrdersVersions(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory(), Options{})
	for _, v := range []string{"2.0.0", "1.0.0-rc.1", "1.0.0", "1.5"} {
		_, err := repo.Add(ctx, nugettest.Simple(t, "Foo", v))
		require.NoError(t, err)
	}
	reg, err := repo.Registration(ctx, nuget.MustPackageID("Foo"), contentBase)
	require.NoError(t, err)
	require.Len(t, reg.Items, 1)
	page := reg.Items[0]
	assert.Equal(t, "1.0.0-rc.1", page.Lower)
	assert.Equal(t, "2.0.0", page.Upper)
	assert.Equal(t, 4, page.Count)
	var versions []string
	for _, it := range page.Items {
		versions = append(versions, it.CatalogEntry.Version)
	}
	assert.Equal(t, []string{"1.0.0-rc.1", "1.0.0", "1.5", "2.0.0"}, versions)
}

func TestRegistrationUnknownID(t *testing.T) {
	repo := New(store.NewMemory(), Options{})
	reg, err := repo.Registration(context.Background(), nuget.MustPackageID("Nope"), contentBase)
	require.NoError(t, err)
	b, err := json.Marshal(reg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0,"items":[]}`, string(b))
}

func TestRegistrationCorruptIndex(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{})
	id := nuget.MustPackageID("Foo")
	require.NoError(t, s.Put(ctx, id.IndexKey(), []byte(`{"versions":["1.0.0","not-a-version"]}`)))
	_, err := repo.Registration(ctx, id, contentBase)
	assert.ErrorIs(t, err, nuget.ErrCorruptIndex)
}

func TestRegistrationMissingManifest(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	repo := New(s, Options{})
	id := nuget.MustPackageID("Foo")
	require.NoError(t, s.Put(ctx, id.IndexKey(), []byte(`{"versions":["1.0.0"]}`)))
	_, err := repo.Registration(ctx, id, contentBase)
	assert.ErrorIs(t, err, nuget.ErrNotFound)
}

func TestCatalogEntryOptionalFields(t *testing.T) {
	m, err := nuget.ParseManifest(nugettest.Nuspec(nugettest.Spec{
		ID:      "Foo",
		Version: "1.0.0+sha",
		Authors: "Ann, Bob",
		Deps:    []nugettest.Dep{{ID: "Flat"}, {Framework: "net48"}},
		Extra: `<title>Foo</title><tags>x y</tags><projectUrl>https://example.com</projectUrl>` +
			`<requireLicenseAcceptance>true</requireLicenseAcceptance><license type="expression">MIT</license>`,
	}))
	require.NoError(t, err)
	e := NewCatalogEntry(m)
	assert.Equal(t, "1.0.0", e.Version)
	assert.Equal(t, Authors{"Ann", "Bob"}, e.Authors)
	assert.Equal(t, "Foo", e.Title)
	assert.Equal(t, "x y", e.Tags)
	assert.Equal(t, "https://example.com", e.ProjectURL)
	assert.Equal(t, "MIT", e.LicenseExpression)
	require.NotNil(t, e.RequireLicenseAcceptance)
	assert.True(t, *e.RequireLicenseAcceptance)
	assert.Equal(t, []DependencyGroup{
		{Dependencies: []Dependency{{ID: "Flat"}}},
		{TargetFramework: "net48", Dependencies: []Dependency{}},
	}, e.DependencyGroups)

	b, err := json.Marshal(e)
	require.NoError(t, err)
	var round CatalogEntry
	require.NoError(t, json.Unmarshal(b, &round))
	assert.Equal(t, e.Authors, round.Authors)
}

func TestBuildPageLookupError(t *testing.T) {
	boom := errors.New("boom")
	lookup := func(context.Context, nuget.Identity) (*nuget.Manifest, error) { return nil, boom }
	versions := []nuget.Version{nuget.MustParseVersion("1.0.0")}
	_, err := BuildPage(context.Background(), nuget.MustPackageID("Foo"), versions, lookup, contentBase)
	assert.ErrorIs(t, err, boom)

	_, err = BuildPage(context.Background(), nuget.MustPackageID("Foo"), nil, lookup, contentBase)
	assert.Error(t, err)
}
