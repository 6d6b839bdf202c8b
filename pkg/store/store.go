// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store defines the key/blob storage the feed is built on and
// provides in-memory, filesystem and SQLite implementations of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotExist is returned by Get and Move when the key is absent.
var ErrNotExist = errors.New("key does not exist")

// Store is a flat namespace of byte blobs addressed by slash separated keys.
//
// Implementations must provide read-after-write consistency per key.
type Store interface {
	// Exists reports whether key holds a blob.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the blob stored under key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, replacing any previous blob.
	Put(ctx context.Context, key string, data []byte) error
	// List returns the sorted keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Move renames src to dst, replacing dst. It returns ErrNotExist if src
	// is absent.
	Move(ctx context.Context, src, dst string) error
	// Exclusive runs fn while holding the exclusive section for prefix. At
	// most one fn runs per prefix at a time; others wait their turn.
	Exclusive(ctx context.Context, prefix string, fn func(context.Context) error) error
}

// ValidKey reports whether key is usable as a store key: non-empty,
// relative, and free of empty, "." and ".." segments.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return false
	}
	if strings.ContainsAny(key, "\\\x00") {
		return false
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
