// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
)

func handleInspect(_ context.Context, args []string) error {
	args = stripCommand(args, "inspect")
	if len(args) != 1 {
		return errors.New("inspect takes exactly one package file")
	}
	pkg, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return inspect(os.Stdout, pkg)
}

// inspect prints what publishing pkg would store.
func inspect(w io.Writer, pkg []byte) error {
	m, err := nuget.ExtractManifest(pkg)
	if err != nil {
		return err
	}
	id := m.Identity()
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold(id.ID.Original()), id.Version.Normalized())
	if id.Version.Original() != id.Version.Normalized() {
		fmt.Fprintf(w, "%s\n", dim("declared as "+id.Version.Original()))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "purl\t%s\n", id.PURL())
	fmt.Fprintf(tw, "authors\t%s\n", strings.Join(m.AuthorList(), ", "))
	fmt.Fprintf(tw, "description\t%s\n", m.Description)
	if m.License != nil {
		fmt.Fprintf(tw, "license\t%s (%s)\n", m.License.Value, m.License.Type)
	}
	for _, f := range nuget.OptFields {
		if v, ok := m.Field(f); ok {
			fmt.Fprintf(tw, "%s\t%s\n", f, v)
		}
	}
	fmt.Fprintf(tw, "sha512\t%s\n", nuget.ComputeHash(pkg).Base64())
	fmt.Fprintf(tw, "package key\t%s\n", id.PackageKey())
	fmt.Fprintf(tw, "hash key\t%s\n", id.HashKey())
	fmt.Fprintf(tw, "manifest key\t%s\n", id.ManifestKey())
	fmt.Fprintf(tw, "index key\t%s\n", id.ID.IndexKey())
	if err := tw.Flush(); err != nil {
		return err
	}

	groups := m.DependencyGroups()
	if len(groups) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%s\n", bold("dependencies"))
	for _, g := range groups {
		fw := g.TargetFramework
		if fw == "" {
			fw = "(any)"
		}
		fmt.Fprintf(w, "  %s\n", fw)
		if len(g.Dependencies) == 0 {
			fmt.Fprintf(w, "    %s\n", dim("none"))
		}
		for _, d := range g.Dependencies {
			if r := d.Range(); r != "" {
				fmt.Fprintf(w, "    %s %s\n", d.ID, r)
			} else {
				fmt.Fprintf(w, "    %s\n", d.ID)
			}
		}
	}
	return nil
}
