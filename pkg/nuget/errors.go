// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPackage is matched by every *InvalidPackageError.
	ErrInvalidPackage = errors.New("invalid package")
	// ErrVersionExists is matched by *PackageVersionAlreadyExistsError.
	ErrVersionExists = errors.New("package version already exists")
	// ErrCorruptIndex is matched by *CorruptIndexError.
	ErrCorruptIndex = errors.New("corrupt version index")
	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrInvalidIdentity is returned for an empty or malformed package id.
	ErrInvalidIdentity = errors.New("invalid package identity")
	// ErrInvalidVersion is matched by *VersionError.
	ErrInvalidVersion = errors.New("invalid version")
)

// InvalidPackageError reports a package archive that was rejected before
// anything was written.
type InvalidPackageError struct {
	Reason string
	Err    error
}

func (e *InvalidPackageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid package: %s: %v", e.Reason, e.Err)
	}
	return "invalid package: " + e.Reason
}

func (e *InvalidPackageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidPackage}
	}
	return []error{ErrInvalidPackage, e.Err}
}

func invalidPackage(err error, format string, args ...any) *InvalidPackageError {
	return &InvalidPackageError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// PackageVersionAlreadyExistsError is returned when publishing an identity
// that is already stored.
type PackageVersionAlreadyExistsError struct {
	Identity Identity
}

func (e *PackageVersionAlreadyExistsError) Error() string {
	return fmt.Sprintf("package %s already exists", e.Identity)
}

func (e *PackageVersionAlreadyExistsError) Unwrap() error { return ErrVersionExists }

// CorruptIndexError reports a version index entry that does not parse.
type CorruptIndexError struct {
	Key   string
	Entry string
	Err   error
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("corrupt version index %q: entry %q: %v", e.Key, e.Entry, e.Err)
}

func (e *CorruptIndexError) Unwrap() []error { return []error{ErrCorruptIndex, e.Err} }

// NotFoundError reports a missing manifest or blob.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found", e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// VersionError reports a string that is not a valid version.
type VersionError struct {
	Raw string
	Err error
}

func (e *VersionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid version %q: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("invalid version %q", e.Raw)
}

func (e *VersionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidVersion}
	}
	return []error{ErrInvalidVersion, e.Err}
}
