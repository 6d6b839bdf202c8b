// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"context"
	_ "crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/yeetrun/nugetfeed/pkg/store"
)

// Hash is the SHA-512 digest of a package binary.
type Hash struct {
	d digest.Digest
}

// ComputeHash hashes the exact bytes of a package.
func ComputeHash(b []byte) Hash {
	return Hash{d: digest.SHA512.FromBytes(b)}
}

// Digest returns the digest in "sha512:<hex>" form.
func (h Hash) Digest() digest.Digest { return h.d }

// Base64 returns the raw digest, base64 encoded, as written to the sidecar.
func (h Hash) Base64() string {
	raw, err := hex.DecodeString(h.d.Encoded())
	if err != nil {
		// Digests built by ComputeHash are always valid hex.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Persist writes the sidecar for id.
func (h Hash) Persist(ctx context.Context, s store.Store, id Identity) error {
	if err := s.Put(ctx, id.HashKey(), []byte(h.Base64())); err != nil {
		return fmt.Errorf("write hash: %w", err)
	}
	return nil
}

// Matches reports whether sidecar holds this hash.
func (h Hash) Matches(sidecar []byte) bool {
	return strings.TrimSpace(string(sidecar)) == h.Base64()
}
