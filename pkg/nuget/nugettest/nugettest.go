// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nugettest builds package archives for tests.
package nugettest

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Namespace is the nuspec namespace written by Nuspec.
const Namespace = "http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd"

// Dep is a dependency to declare. An empty Framework puts it outside any
// group.
type Dep struct {
	ID        string
	Version   string
	Framework string
}

// Spec describes a nuspec document.
type Spec struct {
	ID          string
	Version     string
	Description string
	Authors     string
	Deps        []Dep

	// Extra is raw XML appended inside <metadata>.
	Extra string

	// NoNamespace omits the xmlns attribute.
	NoNamespace bool
}

func (s Spec) withDefaults() Spec {
	if s.Description == "" {
		s.Description = "A test package."
	}
	if s.Authors == "" {
		s.Authors = "tester"
	}
	return s
}

// Nuspec renders s.
func Nuspec(s Spec) []byte {
	s = s.withDefaults()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	if s.NoNamespace {
		b.WriteString("<package>\n")
	} else {
		fmt.Fprintf(&b, "<package xmlns=%q>\n", Namespace)
	}
	b.WriteString("  <metadata>\n")
	fmt.Fprintf(&b, "    <id>%s</id>\n", html.EscapeString(s.ID))
	fmt.Fprintf(&b, "    <version>%s</version>\n", html.EscapeString(s.Version))
	fmt.Fprintf(&b, "    <description>%s</description>\n", html.EscapeString(s.Description))
	fmt.Fprintf(&b, "    <authors>%s</authors>\n", html.EscapeString(s.Authors))
	if s.Extra != "" {
		b.WriteString("    " + s.Extra + "\n")
	}
	if len(s.Deps) > 0 {
		b.WriteString("    <dependencies>\n")
		var groups []string
		byGroup := make(map[string][]Dep)
		for _, d := range s.Deps {
			if d.Framework == "" {
				writeDep(&b, d, "      ")
				continue
			}
			if _, ok := byGroup[d.Framework]; !ok {
				groups = append(groups, d.Framework)
			}
			byGroup[d.Framework] = append(byGroup[d.Framework], d)
		}
		for _, fw := range groups {
			fmt.Fprintf(&b, "      <group targetFramework=%q>\n", fw)
			for _, d := range byGroup[fw] {
				if d.ID == "" {
					continue
				}
				writeDep(&b, d, "        ")
			}
			b.WriteString("      </group>\n")
		}
		b.WriteString("    </dependencies>\n")
	}
	b.WriteString("  </metadata>\n</package>\n")
	return []byte(b.String())
}

func writeDep(b *strings.Builder, d Dep, indent string) {
	if d.Version == "" {
		fmt.Fprintf(b, "%s<dependency id=%q />\n", indent, d.ID)
		return
	}
	fmt.Fprintf(b, "%s<dependency id=%q version=%q />\n", indent, d.ID, d.Version)
}

// Archive zips files in the given order of names.
func Archive(t testing.TB, names []string, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Package returns a package archive for s containing the nuspec and one
// payload file.
func Package(t testing.TB, s Spec) []byte {
	t.Helper()
	nuspec := strings.ToLower(s.ID) + ".nuspec"
	return Archive(t, []string{nuspec, "lib/net6.0/payload.dll"}, map[string][]byte{
		nuspec:                   Nuspec(s),
		"lib/net6.0/payload.dll": []byte("payload of " + s.ID + " " + s.Version),
	})
}

// Simple returns a package archive for id and version.
func Simple(t testing.TB, id, version string) []byte {
	t.Helper()
	return Package(t, Spec{ID: id, Version: version})
}
