// Package server exposes the background context over HTTP so that pages,
// scripts and the CLI can request downloads, scans and settings changes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"hoversave/internal/page"
	"hoversave/internal/pipeline"
	"hoversave/internal/settings"
	"hoversave/internal/sink"
	"hoversave/media"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>hoversave</h1>
<form action="/scan" method="get">
<h3>Scan a page for media</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Scan</button>
</form>
<form action="/download" method="post">
<h3>Download a file</h3>
URL: <input name="url" size="60"><br>
Target: <select name="direct"><option>link</option><option>image</option><option>video</option></select><br>
<button type="submit">Download</button>
</form>
<form action="/inspect" method="get">
<h3>Inspect an image header</h3>
URL: <input name="url" size="60"><br>
<button type="submit">Inspect</button>
</form>
</body></html>`

const defaultScanTTL = 2 * time.Minute

// Loader turns a document URL into something Scan can walk.
type Loader func(ctx context.Context, url string) (page.Source, error)

// SettingsSource hands out the current settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML   string
	Coordinator *pipeline.Coordinator
	Fetcher     *media.Fetcher
	Settings    SettingsSource
	// Store persists PUT /settings. Without it settings are read-only.
	Store   *settings.Store
	History *sink.History
	// Loader defaults to a static document load through Fetcher.
	Loader  Loader
	ScanTTL time.Duration
	// MaxPixels and MaxDimension bound what /preview will decode.
	MaxPixels    int
	MaxDimension int
	Logger       zerolog.Logger
	Clock        func() time.Time
}

// Server exposes the HTTP handlers of the background context.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	handler http.Handler
	log     zerolog.Logger
	scans   *scanCache
	clock   func() time.Time
}

// New wires a new server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Fixed(settings.Defaults())
	}
	if cfg.ScanTTL == 0 {
		cfg.ScanTTL = defaultScanTTL
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = pipeline.DefaultMaxPixels
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = pipeline.DefaultMaxDimension
	}
	log := cfg.Logger.With().Str("component", "server").Logger()
	if cfg.Loader == nil {
		cfg.Loader = staticLoader(cfg.Fetcher, log)
	}
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		log:   log,
		scans: newScanCache(cfg.Clock, cfg.ScanTTL),
		clock: cfg.Clock,
	}
	s.registerRoutes()
	s.handler = withLogging(s.log, s.mux)
	return s
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// InvalidateScans drops every cached scan, e.g. after a settings change.
func (s *Server) InvalidateScans() { s.scans.Clear() }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/download", s.handleDownload)
	s.mux.HandleFunc("/scan", s.handleScan)
	s.mux.HandleFunc("/inspect", s.handleInspect)
	s.mux.HandleFunc("/settings", s.handleSettings)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/preview", s.handlePreview)
	s.mux.HandleFunc("/ping", s.handlePing)
}

func staticLoader(f *media.Fetcher, log zerolog.Logger) Loader {
	return func(ctx context.Context, url string) (page.Source, error) {
		return page.Load(ctx, f, url, page.Options{URL: url, Fetcher: f, ProbeSizes: true, Log: log})
	}
}
