// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress negotiates and applies HTTP content encodings for the
// feed's documents and archives.
//
// Two encodings are supported, zstd and gzip. Negotiate picks one from an
// Accept-Encoding header, honouring quality values; on a tie zstd wins.
//
// Handlers that write a response call Wrap and close what it returns:
//
//	w, done := compress.Wrap(w, req)
//	defer done()
//
// Publish handlers call DecompressRequest before reading the body so that
// clients may upload a gzip or zstd encoded payload.
package compress
