// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/package-url/packageurl-go"
)

// File name suffixes used in the storage layout.
const (
	PackageExt  = ".nupkg"
	HashExt     = ".sha512"
	ManifestExt = ".nuspec"

	indexFile = "index.json"

	// MaxIDLength is the longest package id accepted.
	MaxIDLength = 100
)

var idRe = regexp.MustCompile(`^\w+(?:[_.-]\w+)*$`)

// PackageID is a package identifier. The original casing is kept for display,
// the lowercase form is used for storage and lookup.
type PackageID struct {
	original string
	lower    string
}

// NewPackageID returns the PackageID for s after trimming surrounding space.
// Ids are runs of letters, digits and underscores joined by single dots,
// hyphens or underscores. Anything else, including the empty string, is
// rejected with ErrInvalidIdentity.
func NewPackageID(s string) (PackageID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PackageID{}, ErrInvalidIdentity
	}
	if len(s) > MaxIDLength || !idRe.MatchString(s) {
		return PackageID{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return PackageID{original: s, lower: strings.ToLower(s)}, nil
}

// MustPackageID is like NewPackageID but panics on error.
func MustPackageID(s string) PackageID {
	id, err := NewPackageID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id PackageID) Original() string { return id.original }
func (id PackageID) Lower() string    { return id.lower }
func (id PackageID) String() string   { return id.original }

// Equal reports whether id and o name the same package.
func (id PackageID) Equal(o PackageID) bool { return id.lower == o.lower }

// RootKey is the prefix shared by every key belonging to the package id.
func (id PackageID) RootKey() string { return id.lower + "/" }

// IndexKey is the key of the package's version index.
func (id PackageID) IndexKey() string { return id.lower + "/" + indexFile }

// Identity is a (package id, version) pair.
type Identity struct {
	ID      PackageID
	Version Version
}

// NewIdentity returns the identity for id and version.
func NewIdentity(id PackageID, v Version) Identity {
	return Identity{ID: id, Version: v}
}

func (i Identity) base() string {
	return i.ID.lower + "." + i.Version.Normalized()
}

// RootKey is {id}/{version}, the directory holding all files of one version.
func (i Identity) RootKey() string {
	return i.ID.lower + "/" + i.Version.Normalized()
}

// PackageKey is the key of the package binary.
func (i Identity) PackageKey() string {
	return i.RootKey() + "/" + i.base() + PackageExt
}

// HashKey is the key of the SHA-512 sidecar of the package binary.
func (i Identity) HashKey() string {
	return i.PackageKey() + HashExt
}

// ManifestKey is the key of the stored nuspec.
func (i Identity) ManifestKey() string {
	return i.RootKey() + "/" + i.ID.lower + ManifestExt
}

// PackageFileName is the file name clients download the package under.
func (i Identity) PackageFileName() string {
	return i.base() + PackageExt
}

// PURL returns the package URL for the identity, e.g. pkg:nuget/Foo@1.2.3.
func (i Identity) PURL() string {
	return packageurl.NewPackageURL(packageurl.TypeNuget, "", i.ID.original, i.Version.Normalized(), nil, "").ToString()
}

func (i Identity) String() string {
	return i.ID.original + " " + i.Version.Normalized()
}
