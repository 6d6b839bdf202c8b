// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/yeetrun/nugetfeed/pkg/fileutil"
)

// Filesystem is a Store that keeps each blob in its own file below a root
// directory. Key segments map to directories.
type Filesystem struct {
	Locker

	rootDir string
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem returns a Filesystem rooted at rootDir, creating it if needed.
func NewFilesystem(rootDir string) (*Filesystem, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &Filesystem{rootDir: rootDir}, nil
}

// Root returns the root directory.
func (s *Filesystem) Root() string { return s.rootDir }

func (s *Filesystem) path(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(key)), nil
}

func (s *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return st.Mode().IsRegular(), nil
}

func (s *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}

func (s *Filesystem) Put(ctx context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	base := s.rootDir
	if dir != "" {
		if !ValidKey(dir) {
			return nil, nil
		}
		base = filepath.Join(s.rootDir, filepath.FromSlash(dir))
	}
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() || fileutil.IsTemp(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Filesystem) Move(ctx context.Context, src, dst string) error {
	sp, err := s.path(src)
	if err != nil {
		return err
	}
	dp, err := s.path(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	err = os.Rename(sp, dp)
	if errors.Is(err, syscall.EXDEV) {
		// .staging may be a separate mount.
		if err = fileutil.CopyFile(sp, dp); err == nil {
			err = os.Remove(sp)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			if _, serr := os.Stat(sp); os.IsNotExist(serr) {
				return ErrNotExist
			}
		}
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}
