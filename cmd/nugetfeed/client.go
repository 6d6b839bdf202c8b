// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/shayne/yargs"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
	"github.com/yeetrun/nugetfeed/pkg/registry"
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

type pushFlagsParsed struct {
	Source string `flag:"source" help:"Feed base URL (default: base_url from the config)"`
	APIKey string `flag:"api-key" help:"Publish key (default: api_key from the config)"`
}

// feedClient talks to a running feed.
type feedClient struct {
	base   *url.URL
	apiKey string
	hc     *http.Client
}

func newFeedClient(source, apiKey string) (*feedClient, error) {
	if source == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		source = cfg.BaseURL
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source %q must be an absolute URL", source)
	}
	return &feedClient{base: u, apiKey: apiKey, hc: httpClient}, nil
}

// push uploads one archive and returns the published package URL.
func (c *feedClient) push(ctx context.Context, name string, pkg []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("package", filepath.Base(name))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(pkg); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.JoinPath("package").String(), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set(registry.APIKeyHeader, c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", responseError(resp)
	}
	return resp.Header.Get("Location"), nil
}

// versions fetches the version list of id.
func (c *feedClient) versions(ctx context.Context, id nuget.PackageID) ([]string, error) {
	u := c.base.JoinPath("content", id.Lower(), "index.json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var doc struct {
		Versions []string `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode version list: %w", err)
	}
	return doc.Versions, nil
}

// verify fetches the hash sidecar the feed stored for pkg and compares it
// with the local bytes.
func (c *feedClient) verify(ctx context.Context, pkg []byte) error {
	m, err := nuget.ExtractManifest(pkg)
	if err != nil {
		return err
	}
	u := c.base.JoinPath("content", m.Identity().HashKey())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	sidecar, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return err
	}
	if !nuget.ComputeHash(pkg).Matches(sidecar) {
		return errors.New("stored sha512 does not match the local file")
	}
	return nil
}

// responseError turns an error response into an error carrying the
// server's message.
func responseError(resp *http.Response) error {
	var er registry.ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(b, &er); err == nil && len(er.Errors) > 0 {
		return fmt.Errorf("%s: %w", resp.Status, er.Errors[0])
	}
	return fmt.Errorf("%s", resp.Status)
}

func handlePush(ctx context.Context, args []string) error {
	args = stripCommand(args, "push")
	result, err := yargs.ParseFlags[pushFlagsParsed](args)
	if err != nil {
		return err
	}
	if len(result.Args) == 0 {
		return errors.New("missing package file argument")
	}
	c, err := newFeedClient(result.Flags.Source, result.Flags.APIKey)
	if err != nil {
		return err
	}
	return pushFiles(ctx, os.Stdout, c, result.Args)
}

func pushFiles(ctx context.Context, w io.Writer, c *feedClient, files []string) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	var failed int
	for _, f := range files {
		pkg, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		loc, err := c.push(ctx, f, pkg)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", bad("✗"), f, err)
			continue
		}
		if err := c.verify(ctx, pkg); err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: published but not verified: %v\n", bad("✗"), f, err)
			continue
		}
		fmt.Fprintf(w, "%s %s -> %s\n", ok("✓"), f, loc)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d packages failed to publish", failed, len(files))
	}
	return nil
}

type versionsFlagsParsed struct {
	Source string `flag:"source" help:"Feed base URL (default: base_url from the config)"`
}

func handleVersions(ctx context.Context, args []string) error {
	args = stripCommand(args, "versions")
	result, err := yargs.ParseFlags[versionsFlagsParsed](args)
	if err != nil {
		return err
	}
	if len(result.Args) != 1 {
		return errors.New("versions takes exactly one package id")
	}
	id, err := nuget.NewPackageID(result.Args[0])
	if err != nil {
		return err
	}
	c, err := newFeedClient(result.Flags.Source, "")
	if err != nil {
		return err
	}
	return printVersions(ctx, os.Stdout, c, id)
}

func printVersions(ctx context.Context, w io.Writer, c *feedClient, id nuget.PackageID) error {
	raw, err := c.versions(ctx, id)
	if err != nil {
		return err
	}
	vs := make([]nuget.Version, 0, len(raw))
	for _, s := range raw {
		v, err := nuget.ParseVersion(s)
		if err != nil {
			return fmt.Errorf("feed returned %w", err)
		}
		vs = append(vs, v)
	}
	slices.SortFunc(vs, nuget.Version.Compare)
	pre := color.New(color.FgYellow).SprintFunc()
	for _, v := range vs {
		if v.IsPrerelease() {
			fmt.Fprintln(w, pre(v.Normalized()))
			continue
		}
		fmt.Fprintln(w, v.Normalized())
	}
	return nil
}
