// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
)

// ContentLocation resolves where clients download a package binary from.
type ContentLocation interface {
	URLFor(id nuget.Identity) *url.URL
}

// ManifestLookup returns the manifest stored for an identity.
type ManifestLookup func(ctx context.Context, id nuget.Identity) (*nuget.Manifest, error)

// Registration is the registration index of one package id.
type Registration struct {
	Count int                `json:"count"`
	Items []RegistrationPage `json:"items"`
}

// RegistrationPage lists a contiguous, ascending run of versions.
type RegistrationPage struct {
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Count int                `json:"count"`
	Items []RegistrationItem `json:"items"`
}

type RegistrationItem struct {
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
}

// CatalogEntry is the per-version metadata of a registration item.
type CatalogEntry struct {
	ID          string  `json:"id"`
	Version     string  `json:"version"`
	Description string  `json:"description"`
	Authors     Authors `json:"authors"`

	Title                    string `json:"title,omitempty"`
	Tags                     string `json:"tags,omitempty"`
	ProjectURL               string `json:"projectUrl,omitempty"`
	LicenseURL               string `json:"licenseUrl,omitempty"`
	LicenseExpression        string `json:"licenseExpression,omitempty"`
	RequireLicenseAcceptance *bool  `json:"requireLicenseAcceptance,omitempty"`

	DependencyGroups []DependencyGroup `json:"dependencyGroups"`
	PURL             string            `json:"purl"`
}

// Authors renders as a plain string when there is one author and as an
// array otherwise.
type Authors []string

func (a Authors) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Authors) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Authors{s}
		return nil
	}
	return json.Unmarshal(b, (*[]string)(a))
}

type DependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies"`
}

type Dependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
}

// NewCatalogEntry builds the catalog entry for a manifest.
func NewCatalogEntry(m *nuget.Manifest) CatalogEntry {
	e := CatalogEntry{
		ID:          m.ID.Original(),
		Version:     m.Version.Normalized(),
		Description: m.Description,
		Authors:     Authors(m.AuthorList()),
		PURL:        m.Identity().PURL(),
	}
	e.Title, _ = m.Field(nuget.FieldTitle)
	e.Tags, _ = m.Field(nuget.FieldTags)
	e.ProjectURL, _ = m.Field(nuget.FieldProjectURL)
	e.LicenseURL, _ = m.Field(nuget.FieldLicenseURL)
	if v, ok := m.Field(nuget.FieldRequireLicenseAcceptance); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			e.RequireLicenseAcceptance = &b
		}
	}
	if m.License != nil && m.License.Type == "expression" {
		e.LicenseExpression = m.License.Value
	}
	e.DependencyGroups = []DependencyGroup{}
	for _, g := range m.DependencyGroups() {
		dg := DependencyGroup{
			TargetFramework: g.TargetFramework,
			Dependencies:    []Dependency{},
		}
		for _, d := range g.Dependencies {
			dg.Dependencies = append(dg.Dependencies, Dependency{ID: d.ID, Range: d.Range()})
		}
		e.DependencyGroups = append(e.DependencyGroups, dg)
	}
	return e
}

// maxLeafLoads bounds concurrent manifest reads while building a page.
const maxLeafLoads = 8

// BuildPage builds the registration page for versions, which must be
// non-empty and sorted ascending. Items keep the order of versions.
func BuildPage(ctx context.Context, id nuget.PackageID, versions []nuget.Version, lookup ManifestLookup, loc ContentLocation) (RegistrationPage, error) {
	if len(versions) == 0 {
		return RegistrationPage{}, errors.New("registration page needs at least one version")
	}
	items := make([]RegistrationItem, len(versions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLeafLoads)
	for i, v := range versions {
		g.Go(func() error {
			ident := nuget.NewIdentity(id, v)
			m, err := lookup(gctx, ident)
			if err != nil {
				return err
			}
			items[i] = RegistrationItem{
				CatalogEntry:   NewCatalogEntry(m),
				PackageContent: loc.URLFor(ident).String(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RegistrationPage{}, err
	}
	return RegistrationPage{
		Lower: versions[0].Normalized(),
		Upper: versions[len(versions)-1].Normalized(),
		Count: len(versions),
		Items: items,
	}, nil
}

// Registration returns the registration index of id. An id with no
// published versions yields zero pages.
func (r *Repository) Registration(ctx context.Context, id nuget.PackageID, loc ContentLocation) (Registration, error) {
	ix, err := r.Versions(ctx, id)
	if err != nil {
		return Registration{}, err
	}
	versions, err := ix.All()
	if err != nil {
		return Registration{}, err
	}
	if len(versions) == 0 {
		return Registration{Count: 0, Items: []RegistrationPage{}}, nil
	}
	page, err := BuildPage(ctx, id, versions, r.Nuspec, loc)
	if err != nil {
		return Registration{}, err
	}
	return Registration{Count: 1, Items: []RegistrationPage{page}}, nil
}
