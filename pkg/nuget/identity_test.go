// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"errors"
	"strings"
	"testing"

	"github.com/yeetrun/nugetfeed/pkg/store"
)

func TestPackageID(t *testing.T) {
	id, err := NewPackageID("  Newtonsoft.Json ")
	if err != nil {
		t.Fatalf("NewPackageID: %v", err)
	}
	if id.Original() != "Newtonsoft.Json" || id.Lower() != "newtonsoft.json" {
		t.Fatalf("got (%q, %q)", id.Original(), id.Lower())
	}
	if !id.Equal(MustPackageID("NEWTONSOFT.JSON")) {
		t.Fatal("ids differing only in case should be equal")
	}
	if id.Equal(MustPackageID("Newtonsoft.Json.Bson")) {
		t.Fatal("different ids reported equal")
	}
	if got := id.RootKey(); got != "newtonsoft.json/" {
		t.Fatalf("RootKey() = %q", got)
	}
	if got := id.IndexKey(); got != "newtonsoft.json/index.json" {
		t.Fatalf("IndexKey() = %q", got)
	}
}

func TestPackageIDInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"   ",
		"../evil",
		"a/b",
		".staging",
		"foo..bar",
		"foo-",
		"with space",
		strings.Repeat("a", MaxIDLength+1),
	} {
		if _, err := NewPackageID(s); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("NewPackageID(%q) = %v, want ErrInvalidIdentity", s, err)
		}
	}
}

func TestIdentityKeys(t *testing.T) {
	id := NewIdentity(MustPackageID("Foo.Bar"), MustParseVersion("1.02.3.0-RC.1+abc"))
	want := map[string]string{
		"root":     "foo.bar/1.2.3-RC.1",
		"package":  "foo.bar/1.2.3-RC.1/foo.bar.1.2.3-RC.1.nupkg",
		"hash":     "foo.bar/1.2.3-RC.1/foo.bar.1.2.3-RC.1.nupkg.sha512",
		"manifest": "foo.bar/1.2.3-RC.1/foo.bar.nuspec",
		"file":     "foo.bar.1.2.3-RC.1.nupkg",
	}
	got := map[string]string{
		"root":     id.RootKey(),
		"package":  id.PackageKey(),
		"hash":     id.HashKey(),
		"manifest": id.ManifestKey(),
		"file":     id.PackageFileName(),
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s key = %q, want %q", k, got[k], w)
		}
		if k != "file" && !store.ValidKey(got[k]) {
			t.Errorf("%s key %q is not a valid store key", k, got[k])
		}
	}
	if !strings.HasPrefix(id.RootKey(), id.ID.RootKey()) {
		t.Errorf("identity root %q not under id root %q", id.RootKey(), id.ID.RootKey())
	}
	if got := id.String(); got != "Foo.Bar 1.2.3-RC.1" {
		t.Errorf("String() = %q", got)
	}
	if got := id.PURL(); got != "pkg:nuget/Foo.Bar@1.2.3-RC.1" {
		t.Errorf("PURL() = %q", got)
	}
}

func TestIdentityKeysDistinct(t *testing.T) {
	ids := []Identity{
		NewIdentity(MustPackageID("Foo"), MustParseVersion("1.0")),
		NewIdentity(MustPackageID("Foo"), MustParseVersion("1.0.0")),
		NewIdentity(MustPackageID("Foo"), MustParseVersion("1.0.0-beta")),
		NewIdentity(MustPackageID("Foo.1"), MustParseVersion("0.0")),
	}
	seen := make(map[string]Identity)
	for _, id := range ids {
		for _, k := range []string{id.PackageKey(), id.HashKey(), id.ManifestKey()} {
			if prev, ok := seen[k]; ok {
				t.Fatalf("key %q shared by %s and %s", k, prev, id)
			}
			seen[k] = id
		}
	}
}
