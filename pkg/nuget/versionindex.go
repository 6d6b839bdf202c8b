// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/yeetrun/nugetfeed/pkg/store"
)

// VersionIndex is the list of versions published for one package id. It is
// a value: Append returns a new index and leaves the receiver untouched.
type VersionIndex struct {
	key      string
	versions []string
}

type indexDoc struct {
	Versions []string `json:"versions"`
}

// LoadVersionIndex reads the index of id. A missing index is returned as an
// empty one.
func LoadVersionIndex(ctx context.Context, s store.Store, id PackageID) (VersionIndex, error) {
	key := id.IndexKey()
	b, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrNotExist) {
		return VersionIndex{key: key}, nil
	}
	if err != nil {
		return VersionIndex{}, fmt.Errorf("read version index: %w", err)
	}
	return ParseVersionIndex(key, b)
}

// ParseVersionIndex decodes an index document read from key.
func ParseVersionIndex(key string, b []byte) (VersionIndex, error) {
	var doc indexDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return VersionIndex{}, &CorruptIndexError{Key: key, Entry: "", Err: err}
	}
	return VersionIndex{key: key, versions: doc.Versions}, nil
}

// Append returns a copy of the index with v added. Duplicates are not
// filtered.
func (ix VersionIndex) Append(v Version) VersionIndex {
	return VersionIndex{
		key:      ix.key,
		versions: append(slices.Clip(ix.versions), v.Normalized()),
	}
}

// Len returns the number of stored entries.
func (ix VersionIndex) Len() int { return len(ix.versions) }

// Entries returns the stored strings in storage order.
func (ix VersionIndex) Entries() []string { return slices.Clone(ix.versions) }

// All parses every entry and returns the versions in ascending order. An
// entry that does not parse is a *CorruptIndexError.
func (ix VersionIndex) All() ([]Version, error) {
	out := make([]Version, 0, len(ix.versions))
	for _, s := range ix.versions {
		v, err := ParseVersion(s)
		if err != nil {
			return nil, &CorruptIndexError{Key: ix.key, Entry: s, Err: err}
		}
		out = append(out, v)
	}
	slices.SortStableFunc(out, Version.Compare)
	return out, nil
}

// MarshalJSON renders {"versions":[...]}, never null.
func (ix VersionIndex) MarshalJSON() ([]byte, error) {
	vs := ix.versions
	if vs == nil {
		vs = []string{}
	}
	return json.Marshal(indexDoc{Versions: vs})
}

// Save writes the whole document to key, replacing what was there.
func (ix VersionIndex) Save(ctx context.Context, s store.Store, key string) error {
	b, err := json.Marshal(ix)
	if err != nil {
		return err
	}
	if err := s.Put(ctx, key, b); err != nil {
		return fmt.Errorf("write version index: %w", err)
	}
	return nil
}
