// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"cmp"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+)(?:\.(\d+))?)?` +
	`(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
	`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`)

// Version is a parsed package version of the form
// major.minor[.patch[.revision]][-label][+metadata].
//
// The zero value is not a valid version; use ParseVersion.
type Version struct {
	raw      string
	major    uint64
	minor    uint64
	patch    uint64
	revision uint64
	hasPatch bool
	label    string
	metadata string

	// pre is the label as a semver prerelease, used for precedence.
	pre *semver.Version
}

// ParseVersion parses raw. Major and minor are required.
func ParseVersion(raw string) (Version, error) {
	m := versionRe.FindStringSubmatch(raw)
	if m == nil {
		return Version{}, &VersionError{Raw: raw}
	}
	v := Version{
		raw:      raw,
		label:    m[5],
		metadata: m[6],
	}
	nums := []*uint64{&v.major, &v.minor, &v.patch, &v.revision}
	for i, s := range m[1:5] {
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Version{}, &VersionError{Raw: raw, Err: err}
		}
		*nums[i] = n
	}
	v.hasPatch = m[3] != ""
	if v.label != "" {
		pre, err := semver.NewVersion("0.0.0-" + v.label)
		if err != nil {
			return Version{}, &VersionError{Raw: raw, Err: err}
		}
		v.pre = pre
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Original returns the string the version was parsed from.
func (v Version) Original() string { return v.raw }

// String returns the original string.
func (v Version) String() string { return v.raw }

// Label returns the prerelease label, or "" if there is none.
func (v Version) Label() string { return v.label }

// Metadata returns the build metadata, or "" if there is none.
func (v Version) Metadata() string { return v.metadata }

// IsPrerelease reports whether v carries a label.
func (v Version) IsPrerelease() bool { return v.label != "" }

// Normalized returns the canonical form of v: numeric components without
// leading zeros, the revision only when non-zero and no build metadata.
// The patch component is kept exactly when it was present in the input.
func (v Version) Normalized() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(v.major, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(v.minor, 10))
	if v.hasPatch {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(v.patch, 10))
		if v.revision != 0 {
			b.WriteByte('.')
			b.WriteString(strconv.FormatUint(v.revision, 10))
		}
	}
	if v.label != "" {
		b.WriteByte('-')
		b.WriteString(v.label)
	}
	return b.String()
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to
// or after o. Missing patch and revision count as zero and build metadata is
// ignored. A version without a label sorts after any version with one.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.major, o.major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.minor, o.minor); c != 0 {
		return c
	}
	if c := cmp.Compare(v.patch, o.patch); c != 0 {
		return c
	}
	if c := cmp.Compare(v.revision, o.revision); c != 0 {
		return c
	}
	switch {
	case v.pre == nil && o.pre == nil:
		return 0
	case v.pre == nil:
		return 1
	case o.pre == nil:
		return -1
	}
	return v.pre.Compare(o.pre)
}

// Equal reports whether v and o have the same precedence.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }
