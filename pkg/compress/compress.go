// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress negotiates HTTP content encodings and applies them to
// response bodies and request bodies.
package compress

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding is a Content-Encoding token.
type Encoding string

const (
	Identity Encoding = ""
	Zstd     Encoding = "zstd"
	Gzip     Encoding = "gzip"
)

// preferred breaks ties between equally weighted encodings.
var preferred = []Encoding{Zstd, Gzip}

// Negotiate picks the encoding to use for a response given the request's
// Accept-Encoding header. Quality values are honoured, "*" stands for any
// encoding not listed explicitly and q=0 excludes an encoding.
func Negotiate(acceptEncoding string) Encoding {
	if acceptEncoding == "" {
		return Identity
	}
	weights := make(map[Encoding]float64)
	wildcard := -1.0
	for part := range strings.SplitSeq(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		switch name {
		case string(Zstd), string(Gzip):
			weights[Encoding(name)] = q
		case "*":
			wildcard = q
		}
	}
	best, bestQ := Identity, 0.0
	for _, enc := range preferred {
		q, ok := weights[enc]
		if !ok {
			if wildcard < 0 {
				continue
			}
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = enc, q
		}
	}
	return best
}

// ResponseWriter compresses everything written to it. Close must be called
// to flush the final frame.
type ResponseWriter struct {
	http.ResponseWriter
	enc         Encoding
	zw          io.WriteCloser
	wroteHeader bool
}

// NewResponseWriter wraps w so that the body is encoded with enc.
func NewResponseWriter(w http.ResponseWriter, enc Encoding) (*ResponseWriter, error) {
	cw := &ResponseWriter{ResponseWriter: w, enc: enc}
	var err error
	switch enc {
	case Zstd:
		cw.zw, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case Gzip:
		cw.zw, err = gzip.NewWriterLevel(w, gzip.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	return cw, nil
}

func (cw *ResponseWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	h := cw.ResponseWriter.Header()
	h.Set("Content-Encoding", string(cw.enc))
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *ResponseWriter) Write(p []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.zw.Write(p)
}

// Close flushes and closes the encoder. It does not close the underlying
// connection.
func (cw *ResponseWriter) Close() error {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.zw.Close()
}

// Wrap negotiates an encoding for req and returns the writer to use plus a
// function that must be called once the body is complete.
func Wrap(w http.ResponseWriter, req *http.Request) (http.ResponseWriter, func() error) {
	enc := Negotiate(req.Header.Get("Accept-Encoding"))
	if enc == Identity {
		return w, func() error { return nil }
	}
	cw, err := NewResponseWriter(w, enc)
	if err != nil {
		return w, func() error { return nil }
	}
	return cw, cw.Close
}

// DecompressRequest replaces a gzip or zstd encoded request body with its
// decoded form. Other encodings are left alone.
func DecompressRequest(r *http.Request) error {
	var (
		body io.ReadCloser
		err  error
	)
	switch enc := strings.ToLower(r.Header.Get("Content-Encoding")); enc {
	case "", "identity":
		return nil
	case string(Gzip):
		body, err = gzip.NewReader(r.Body)
	case string(Zstd):
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(r.Body); err == nil {
			body = zr.IOReadCloser()
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create decompressor: %w", err)
	}
	r.Body = &bodyCloser{ReadCloser: body, orig: r.Body}
	r.Header.Del("Content-Encoding")
	r.Header.Del("Content-Length")
	r.ContentLength = -1
	return nil
}

type bodyCloser struct {
	io.ReadCloser
	orig io.Closer
}

func (b *bodyCloser) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.orig.Close())
}
