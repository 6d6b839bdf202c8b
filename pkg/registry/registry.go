// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yeetrun/nugetfeed/pkg/compress"
	"github.com/yeetrun/nugetfeed/pkg/feed"
	"github.com/yeetrun/nugetfeed/pkg/nuget"
	"github.com/yeetrun/nugetfeed/pkg/store"
)

// DefaultMaxPackageSize bounds PUT /package bodies when Config leaves it
// unset.
const DefaultMaxPackageSize = 256 << 20

// APIKeyHeader carries the publish key.
const APIKeyHeader = "X-NuGet-ApiKey"

// Config configures a Server.
type Config struct {
	// BaseURL is the externally visible root of the feed. Its path, if
	// any, is stripped from incoming requests.
	BaseURL *url.URL

	// APIKey, if set, must accompany every publish.
	APIKey string

	// MaxPackageSize limits uploads. Zero means DefaultMaxPackageSize.
	MaxPackageSize int64

	Logger *log.Logger
}

// Server exposes a feed.Repository over the NuGet v3 HTTP protocol.
type Server struct {
	repo           *feed.Repository
	mux            *http.ServeMux
	base           *url.URL
	prefix         string
	apiKey         string
	maxPackageSize int64
	log            *log.Logger
}

// New creates a Server for repo.
func New(repo *feed.Repository, cfg Config) *Server {
	base := cfg.BaseURL
	if base == nil {
		base = &url.URL{Scheme: "http", Host: "localhost"}
	}
	s := &Server{
		repo:           repo,
		mux:            http.NewServeMux(),
		base:           base,
		prefix:         strings.TrimSuffix(base.Path, "/"),
		apiKey:         cfg.APIKey,
		maxPackageSize: cfg.MaxPackageSize,
		log:            cfg.Logger,
	}
	if s.maxPackageSize <= 0 {
		s.maxPackageSize = DefaultMaxPackageSize
	}
	if s.log == nil {
		s.log = log.New(io.Discard)
	}
	s.setupRoutes()
	return s
}

// PathType represents the kind of resource a request addresses.
type PathType int

const (
	PathTypeUnknown PathType = iota
	PathTypeServiceIndex
	PathTypePublish
	PathTypeVersions
	PathTypeContent
	PathTypeRegistration
)

func (pt PathType) String() string {
	switch pt {
	case PathTypeServiceIndex:
		return "service_index"
	case PathTypePublish:
		return "publish"
	case PathTypeVersions:
		return "versions"
	case PathTypeContent:
		return "content"
	case PathTypeRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// FeedPath holds the parsed components of a request path.
type FeedPath struct {
	Type PathType
	ID   string // package id for versions and registration
	Key  string // store key for content
}

// ParsePath parses a request path relative to the feed root.
func ParsePath(p string) (*FeedPath, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(p, "/")
	switch parts[0] {
	case "index.json":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unexpected path under index.json")
		}
		return &FeedPath{Type: PathTypeServiceIndex}, nil
	case "package":
		if len(parts) != 1 {
			return nil, fmt.Errorf("publish path takes no arguments")
		}
		return &FeedPath{Type: PathTypePublish}, nil
	case "content":
		if len(parts) < 2 {
			return nil, fmt.Errorf("content path missing key")
		}
		if len(parts) == 3 && parts[2] == "index.json" {
			return &FeedPath{Type: PathTypeVersions, ID: parts[1]}, nil
		}
		key := strings.Join(parts[1:], "/")
		if !store.ValidKey(key) || strings.HasPrefix(key, ".") {
			return nil, fmt.Errorf("invalid content key %q", key)
		}
		return &FeedPath{Type: PathTypeContent, Key: key}, nil
	case "registrations":
		if len(parts) != 3 || parts[2] != "index.json" {
			return nil, fmt.Errorf("registration path must be registrations/<id>/index.json")
		}
		return &FeedPath{Type: PathTypeRegistration, ID: parts[1]}, nil
	default:
		return nil, fmt.Errorf("unknown resource %q", parts[0])
	}
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		rel, ok := strings.CutPrefix(req.URL.Path, s.prefix)
		if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
			http.NotFound(w, req)
			return
		}
		result, err := ParsePath(rel)
		if err != nil {
			s.log.Debug("unroutable request", "path", req.URL.Path, "err", err)
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "not found", nil)
			return
		}
		s.log.Debug("request", "method", req.Method, "path", req.URL.Path, "type", result.Type)
		switch result.Type {
		case PathTypeServiceIndex:
			s.handleServiceIndex(w, req)
		case PathTypePublish:
			s.handlePublish(w, req)
		case PathTypeVersions:
			s.handleVersions(w, req, result.ID)
		case PathTypeContent:
			s.handleContent(w, req, result.Key)
		case PathTypeRegistration:
			s.handleRegistration(w, req, result.ID)
		default:
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "not found", nil)
		}
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

func methodAllowed(w http.ResponseWriter, req *http.Request, methods ...string) bool {
	for _, m := range methods {
		if req.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, ErrCodeUnsupported, "method not allowed", nil)
	return false
}

// Resource is one entry of the service index.
type Resource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// ServiceIndex is the document served at /index.json.
type ServiceIndex struct {
	Version   string     `json:"version"`
	Resources []Resource `json:"resources"`
}

func (s *Server) serviceIndex() ServiceIndex {
	return ServiceIndex{
		Version: "3.0.0",
		Resources: []Resource{
			{ID: s.base.JoinPath("package").String(), Type: "PackagePublish/2.0.0"},
			{ID: s.base.JoinPath("registrations").String() + "/", Type: "RegistrationsBaseUrl/Versioned"},
			{ID: s.base.JoinPath("content").String() + "/", Type: "PackageBaseAddress/3.0.0"},
		},
	}
}

func (s *Server) handleServiceIndex(w http.ResponseWriter, req *http.Request) {
	if !methodAllowed(w, req, http.MethodGet, http.MethodHead) {
		return
	}
	s.writeJSON(w, req, http.StatusOK, s.serviceIndex())
}

// handlePublish accepts a package either as the first part of a multipart
// form or as the raw request body.
func (s *Server) handlePublish(w http.ResponseWriter, req *http.Request) {
	if !methodAllowed(w, req, http.MethodPut, http.MethodPost) {
		return
	}
	if s.apiKey != "" && req.Header.Get(APIKeyHeader) != s.apiKey {
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid API key", nil)
		return
	}
	if err := compress.DecompressRequest(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodePackageInvalid, err.Error(), nil)
		return
	}
	body, err := s.readPackage(w, req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error(), nil)
			return
		}
		WriteError(w, http.StatusBadRequest, ErrCodePackageInvalid, err.Error(), nil)
		return
	}
	id, err := s.repo.Add(req.Context(), body)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Location", s.contentURL(id).String())
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) readPackage(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	r := http.MaxBytesReader(w, req.Body, s.maxPackageSize)
	defer r.Close()
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("empty request body")
		}
		return b, nil
	}
	mr := multipart.NewReader(r, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		return nil, fmt.Errorf("read multipart body: %w", err)
	}
	defer part.Close()
	return io.ReadAll(part)
}

func (s *Server) handleVersions(w http.ResponseWriter, req *http.Request, rawID string) {
	if !methodAllowed(w, req, http.MethodGet, http.MethodHead) {
		return
	}
	id, err := nuget.NewPackageID(rawID)
	if err != nil {
		writeErr(w, err)
		return
	}
	ix, err := s.repo.Versions(req.Context(), id)
	if err != nil {
		s.log.Error("load versions", "id", id, "err", err)
		writeErr(w, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, ix)
}

// contentTypes maps stored file extensions onto response content types.
var contentTypes = map[string]string{
	nuget.PackageExt:  "application/octet-stream",
	nuget.HashExt:     "text/plain; charset=utf-8",
	nuget.ManifestExt: "application/xml",
	".json":           "application/json",
}

func (s *Server) handleContent(w http.ResponseWriter, req *http.Request, key string) {
	if !methodAllowed(w, req, http.MethodGet, http.MethodHead) {
		return
	}
	data, ok, err := s.repo.Content(req.Context(), key)
	if err != nil {
		s.log.Error("read content", "key", key, "err", err)
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, &nuget.NotFoundError{Key: key})
		return
	}
	ct, ok := contentTypes[path.Ext(key)]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if req.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	cw, done := compress.Wrap(w, req)
	cw.WriteHeader(http.StatusOK)
	cw.Write(data)
	if err := done(); err != nil {
		s.log.Debug("finish response", "key", key, "err", err)
	}
}

func (s *Server) handleRegistration(w http.ResponseWriter, req *http.Request, rawID string) {
	if !methodAllowed(w, req, http.MethodGet, http.MethodHead) {
		return
	}
	id, err := nuget.NewPackageID(rawID)
	if err != nil {
		writeErr(w, err)
		return
	}
	reg, err := s.repo.Registration(req.Context(), id, s)
	if err != nil {
		s.log.Error("build registration", "id", id, "err", err)
		writeErr(w, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, reg)
}

// URLFor implements feed.ContentLocation.
func (s *Server) URLFor(id nuget.Identity) *url.URL {
	return s.contentURL(id)
}

func (s *Server) contentURL(id nuget.Identity) *url.URL {
	return s.base.JoinPath("content", id.PackageKey())
}

func (s *Server) writeJSON(w http.ResponseWriter, req *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if req.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	cw, done := compress.Wrap(w, req)
	cw.WriteHeader(status)
	cw.Write(b)
	if err := done(); err != nil {
		s.log.Debug("finish response", "path", req.URL.Path, "err", err)
	}
}

// ListenAndServe serves s on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves s on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("serving feed", "addr", ln.Addr().String(), "base", s.base.String())
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// BasePath returns the path under which the feed is mounted.
func (s *Server) BasePath() string {
	return s.prefix
}
