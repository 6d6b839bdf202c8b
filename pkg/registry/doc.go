// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry serves a package feed over the NuGet v3 HTTP protocol.
//
// Routes, relative to the configured base URL:
//
//	GET  /index.json                      service index
//	PUT  /package                         publish (multipart or raw body)
//	GET  /content/<id>/index.json         published versions of <id>
//	GET  /content/<id>/<ver>/<file>       package, hash sidecar or nuspec
//	GET  /registrations/<id>/index.json   registration index
//
// Package ids in paths are case-insensitive. Content keys that start with a
// dot are never served, which keeps staged uploads private.
//
// # Compression
//
// JSON and content responses are compressed when the client sends an
// Accept-Encoding header naming zstd or gzip; zstd wins ties. Publish
// bodies may be sent with Content-Encoding: gzip or zstd.
//
// # Errors
//
// Failures are reported as
//
//	{"errors":[{"code":"VERSION_EXISTS","message":"..."}]}
//
// with 400 for a rejected package, 409 for a duplicate version, 404 for a
// missing resource and 500 otherwise.
package registry
