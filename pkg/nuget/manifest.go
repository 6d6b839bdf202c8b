// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nuget

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"
	"github.com/klauspost/compress/zip"
)

// MaxManifestSize bounds the size of the nuspec read out of an archive.
const MaxManifestSize = 4 << 20

// OptField names an optional nuspec metadata element.
type OptField string

const (
	FieldTitle                    OptField = "title"
	FieldLicenseURL               OptField = "licenseUrl"
	FieldRequireLicenseAcceptance OptField = "requireLicenseAcceptance"
	FieldTags                     OptField = "tags"
	FieldProjectURL               OptField = "projectUrl"
	FieldReleaseNotes             OptField = "releaseNotes"
)

// OptFields lists every optional field in document order.
var OptFields = []OptField{
	FieldTitle,
	FieldLicenseURL,
	FieldRequireLicenseAcceptance,
	FieldTags,
	FieldProjectURL,
	FieldReleaseNotes,
}

// Dependency is one dependency line of a manifest. An entry with an empty ID
// marks a target framework group that declares no dependencies.
type Dependency struct {
	ID              string
	Version         string // lower bound, verbatim; may be empty
	TargetFramework string // empty for the framework-less bucket
}

// License is the nuspec <license> element.
type License struct {
	Type  string // "expression" or "file"
	Value string
}

// Manifest is a parsed nuspec document.
type Manifest struct {
	ID           PackageID
	Version      Version
	Description  string
	Authors      string
	Dependencies []Dependency
	License      *License

	fields map[OptField]string
	raw    []byte
}

// Identity returns the package identity the manifest declares.
func (m *Manifest) Identity() Identity {
	return NewIdentity(m.ID, m.Version)
}

// Field returns the value of an optional field.
func (m *Manifest) Field(name OptField) (string, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// Bytes returns the manifest document exactly as it was read.
func (m *Manifest) Bytes() []byte {
	return bytes.Clone(m.raw)
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Dependencies = slices.Clone(m.Dependencies)
	if m.License != nil {
		l := *m.License
		c.License = &l
	}
	c.fields = maps.Clone(m.fields)
	c.raw = bytes.Clone(m.raw)
	return &c
}

// AuthorList splits Authors on commas. A single author yields one element.
func (m *Manifest) AuthorList() []string {
	if !strings.Contains(m.Authors, ",") {
		return []string{m.Authors}
	}
	parts := strings.Split(m.Authors, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ExtractManifest opens a package archive and parses the single nuspec it
// contains. Every failure is an *InvalidPackageError.
func ExtractManifest(archive []byte) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, invalidPackage(err, "not a package archive")
	}
	var found *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ManifestExt) {
			continue
		}
		if found != nil {
			return nil, invalidPackage(nil, "more than one %s entry (%s, %s)", ManifestExt, found.Name, f.Name)
		}
		found = f
	}
	if found == nil {
		return nil, invalidPackage(nil, "no %s entry", ManifestExt)
	}
	rc, err := found.Open()
	if err != nil {
		return nil, invalidPackage(err, "open %s", found.Name)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, MaxManifestSize+1))
	if err != nil {
		return nil, invalidPackage(err, "read %s", found.Name)
	}
	if len(raw) > MaxManifestSize {
		return nil, invalidPackage(nil, "%s exceeds %d bytes", found.Name, MaxManifestSize)
	}
	return ParseManifest(raw)
}

// The nuspec schema is published under several namespaces. Tags carry no
// namespace so elements are matched on local name only.
type nuspecDoc struct {
	XMLName  xml.Name         `xml:"package"`
	Metadata []nuspecMetadata `xml:"metadata"`
}

type nuspecMetadata struct {
	ID          []string `xml:"id"`
	Version     []string `xml:"version"`
	Description []string `xml:"description"`
	Authors     []string `xml:"authors"`

	Title                    []string `xml:"title"`
	LicenseURL               []string `xml:"licenseUrl"`
	RequireLicenseAcceptance []string `xml:"requireLicenseAcceptance"`
	Tags                     []string `xml:"tags"`
	ProjectURL               []string `xml:"projectUrl"`
	ReleaseNotes             []string `xml:"releaseNotes"`

	License      []nuspecLicense      `xml:"license"`
	Dependencies []nuspecDependencies `xml:"dependencies"`
}

type nuspecLicense struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type nuspecDependencies struct {
	Dependencies []nuspecDependency `xml:"dependency"`
	Groups       []nuspecGroup      `xml:"group"`
}

type nuspecGroup struct {
	TargetFramework string             `xml:"targetFramework,attr"`
	Dependencies    []nuspecDependency `xml:"dependency"`
}

type nuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

func (d nuspecDependency) dependency(framework string) (Dependency, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return Dependency{}, invalidPackage(nil, "dependency without id")
	}
	return Dependency{
		ID:              id,
		Version:         strings.TrimSpace(d.Version),
		TargetFramework: framework,
	}, nil
}

func (md *nuspecMetadata) optional(name OptField) []string {
	switch name {
	case FieldTitle:
		return md.Title
	case FieldLicenseURL:
		return md.LicenseURL
	case FieldRequireLicenseAcceptance:
		return md.RequireLicenseAcceptance
	case FieldTags:
		return md.Tags
	case FieldProjectURL:
		return md.ProjectURL
	case FieldReleaseNotes:
		return md.ReleaseNotes
	}
	return nil
}

// single returns the only non-empty value of a required element.
func single(name string, values []string) (string, error) {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return "", invalidPackage(nil, "missing <%s>", name)
	case 1:
		return out[0], nil
	default:
		return "", invalidPackage(nil, "multiple <%s> values", name)
	}
}

// ParseManifest parses a nuspec document.
func ParseManifest(raw []byte) (*Manifest, error) {
	var doc nuspecDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, invalidPackage(err, "malformed nuspec")
	}
	switch len(doc.Metadata) {
	case 0:
		return nil, invalidPackage(nil, "missing <metadata>")
	case 1:
	default:
		return nil, invalidPackage(nil, "multiple <metadata> elements")
	}
	md := &doc.Metadata[0]

	m := &Manifest{raw: bytes.Clone(raw)}
	idStr, err := single("id", md.ID)
	if err != nil {
		return nil, err
	}
	if m.ID, err = NewPackageID(idStr); err != nil {
		return nil, invalidPackage(err, "id %q", idStr)
	}
	verStr, err := single("version", md.Version)
	if err != nil {
		return nil, err
	}
	if m.Version, err = ParseVersion(verStr); err != nil {
		return nil, invalidPackage(err, "version")
	}
	if m.Description, err = single("description", md.Description); err != nil {
		return nil, err
	}
	if m.Authors, err = single("authors", md.Authors); err != nil {
		return nil, err
	}

	for _, name := range OptFields {
		values := md.optional(name)
		if len(values) == 0 {
			continue
		}
		if m.fields == nil {
			m.fields = make(map[OptField]string)
		}
		m.fields[name] = strings.TrimSpace(values[0])
	}

	if len(md.License) > 0 {
		l := &License{
			Type:  strings.TrimSpace(md.License[0].Type),
			Value: strings.TrimSpace(md.License[0].Value),
		}
		if err := validateLicense(l); err != nil {
			return nil, err
		}
		m.License = l
	}

	for _, deps := range md.Dependencies {
		for _, d := range deps.Dependencies {
			dep, err := d.dependency("")
			if err != nil {
				return nil, err
			}
			m.Dependencies = append(m.Dependencies, dep)
		}
		for _, g := range deps.Groups {
			fw := strings.TrimSpace(g.TargetFramework)
			if len(g.Dependencies) == 0 {
				m.Dependencies = append(m.Dependencies, Dependency{TargetFramework: fw})
				continue
			}
			for _, d := range g.Dependencies {
				dep, err := d.dependency(fw)
				if err != nil {
					return nil, err
				}
				m.Dependencies = append(m.Dependencies, dep)
			}
		}
	}
	return m, nil
}

func validateLicense(l *License) error {
	if l.Type != "expression" {
		return nil
	}
	if l.Value == "" {
		return invalidPackage(nil, "empty license expression")
	}
	ok, invalid := spdxexp.ValidateLicenses([]string{l.Value})
	if !ok {
		return invalidPackage(errors.New(strings.Join(invalid, ", ")), "license expression %q", l.Value)
	}
	return nil
}

// DependencyGroup is the set of dependencies declared for one target
// framework.
type DependencyGroup struct {
	TargetFramework string
	Dependencies    []Dependency
}

// DependencyGroups folds Dependencies by target framework. Groups appear in
// the order their framework is first seen, dependencies keep source order.
func (m *Manifest) DependencyGroups() []DependencyGroup {
	var groups []DependencyGroup
	index := make(map[string]int)
	for _, d := range m.Dependencies {
		i, ok := index[d.TargetFramework]
		if !ok {
			i = len(groups)
			index[d.TargetFramework] = i
			groups = append(groups, DependencyGroup{TargetFramework: d.TargetFramework})
		}
		if d.ID != "" {
			groups[i].Dependencies = append(groups[i].Dependencies, d)
		}
	}
	return groups
}

// Range renders the dependency's lower bound as an open ended range, or ""
// if the dependency has no version.
func (d Dependency) Range() string {
	if d.Version == "" {
		return ""
	}
	return fmt.Sprintf("[%s, )", d.Version)
}
