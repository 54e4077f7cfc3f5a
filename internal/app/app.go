// Package app wires the background context: storage, settings, the media
// cache and fetcher, the download sink and the pipeline coordinator, and
// optionally a live browser page driven by the hover agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"hoversave/internal/browser"
	"hoversave/internal/bus"
	"hoversave/internal/config"
	"hoversave/internal/pagectx"
	"hoversave/internal/pipeline"
	"hoversave/internal/server"
	"hoversave/internal/settings"
	"hoversave/internal/sink"
	"hoversave/internal/storage"
	"hoversave/media"
)

const (
	settingsPollInterval = 2 * time.Second
	broadcastTimeout     = 5 * time.Second
	shutdownTimeout      = 10 * time.Second
)

// App is the background context of one process.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	DB          *gorm.DB
	Store       *settings.Store
	Settings    *settings.Cache
	Cache       *media.Cache
	Fetcher     *media.Fetcher
	History     *sink.History
	Sink        *sink.FileSink
	Coordinator *pipeline.Coordinator
	// Background answers download messages from page contexts.
	Background *bus.Bus

	// local answers page-bound messages while no browser page is attached.
	local  *pagectx.Agent
	page   pageSlot
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens storage and builds every background component from cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.New()
	}
	db, err := storage.Open(cfg.Sqlite.DSN, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, DB: db}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	var err error
	if a.Store, err = settings.NewStore(a.DB, a.Log); err != nil {
		return err
	}
	if a.Settings, err = settings.NewCache(ctx, a.Store, a.Log); err != nil {
		return fmt.Errorf("app: load settings: %w", err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Store.Watch(a.ctx, settingsPollInterval)
	}()
	a.Settings.OnChange(a.broadcastSettings)

	a.Cache = media.NewCache(media.CacheConfig{
		MemoryBytes: int64(cfg.Cache.MemoryMB) << 20,
		DiskDir:     cfg.Cache.DiskDir,
		DiskBytes:   int64(cfg.Cache.DiskMB) << 20,
	})
	a.Fetcher = media.NewFetcher(media.FetcherConfig{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   ms(cfg.Fetch.TimeoutMS),
		Cache:     a.Cache,
	})
	if a.History, err = sink.NewHistory(a.DB); err != nil {
		return err
	}
	a.Sink, err = sink.NewFileSink(sink.FileSinkConfig{
		Dir:     cfg.Downloads.Dir,
		Fetcher: a.Fetcher,
		History: a.History,
		Logger:  a.Log,
	})
	if err != nil {
		return err
	}
	a.Coordinator = pipeline.New(pipeline.Config{
		Sink:         a.Sink,
		Fetcher:      a.Fetcher,
		Page:         &a.page,
		Codec:        pipeline.AVIF{},
		Settings:     a.Settings,
		CodecTimeout: ms(cfg.Codec.TimeoutMS),
		MaxPixels:    cfg.Codec.MaxPixels,
		MaxDimension: cfg.Codec.MaxDimension,
		Logger:       a.Log,
	})
	a.Background = bus.New(a.Log)
	a.Background.Handle(bus.TypeDownload, a.Coordinator.HandleDownload)

	a.local = pagectx.New(pagectx.Config{
		Rasterizer: pagectx.LocalRasterizer{
			Fetcher:      a.Fetcher,
			MaxPixels:    cfg.Codec.MaxPixels,
			MaxDimension: cfg.Codec.MaxDimension,
		},
		Background: a.Background,
		Settings:   a.Settings.Snapshot(),
		Logger:     a.Log,
	})
	a.page.setFallback(a.local.Channel())
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// AttachPage routes page-bound messages (raster work, settings updates) to
// ch. A nil ch detaches and hands raster work back to the in-process
// rasterizer.
func (a *App) AttachPage(ch bus.Channel) { a.page.set(ch) }

// AttachBrowserPage lets p answer raster work and settings pushes without a
// hover surface. The returned func detaches it again.
func (a *App) AttachBrowserPage(p *browser.Page) func() {
	agent := pagectx.New(pagectx.Config{
		Source:     p,
		Rasterizer: p,
		Background: a.Background,
		Settings:   a.Settings.Snapshot(),
		Logger:     a.Log,
	})
	a.AttachPage(agent.Channel())
	return func() {
		a.AttachPage(nil)
		agent.Close()
	}
}

// broadcastSettings pushes the full snapshot to the attached page.
func (a *App) broadcastSettings(_, next settings.Snapshot) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(a.ctx, broadcastTimeout)
		defer cancel()
		err := bus.Call(ctx, &a.page, bus.TypeSettingsUpdated, next.Map(), nil)
		switch {
		case err == nil:
			a.Log.Debug().Msg("settings pushed to page")
		case errors.Is(err, bus.ErrNoListener):
		default:
			a.Log.Warn().Err(err).Msg("settings push failed")
		}
	}()
}

// Server builds the HTTP API over this App.
func (a *App) Server() *server.Server {
	return server.New(server.Config{
		Coordinator:  a.Coordinator,
		Fetcher:      a.Fetcher,
		Settings:     a.Settings,
		Store:        a.Store,
		History:      a.History,
		MaxPixels:    a.Config.Codec.MaxPixels,
		MaxDimension: a.Config.Codec.MaxDimension,
		Logger:       a.Log,
	})
}

// Serve runs the HTTP API on addr until ctx is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	api := a.Server()
	a.Settings.OnChange(func(_, _ settings.Snapshot) { api.InvalidateScans() })
	srv := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          newHTTPErrorLog(a.Log),
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.Log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WatchOptions configures an interactive browser session.
type WatchOptions struct {
	Headless    bool
	UserDataDir string
	// OnSaved observes every save made from the page.
	OnSaved func(media.DownloadRequest, bus.DownloadReply, error)
}

// Watch opens target in Chromium, installs the hover agent and serves saves
// until ctx is done or the tab closes.
func (a *App) Watch(ctx context.Context, target string, opts WatchOptions) error {
	b, err := browser.New(browser.Config{
		Headless:        opts.Headless,
		ExecPath:        a.Config.Browser.ExecPath,
		UserDataDir:     opts.UserDataDir,
		Cache:           a.Cache,
		NavigateTimeout: ms(a.Config.Browser.TimeoutMS),
		Logger:          a.Log,
	})
	if err != nil {
		return err
	}
	defer b.Close()
	p, err := b.Open(ctx, target)
	if err != nil {
		return err
	}
	defer p.Close()

	agent := pagectx.New(pagectx.Config{
		Source:     p,
		Surface:    p,
		Rasterizer: p,
		Background: a.Background,
		Settings:   a.Settings.Snapshot(),
		OnSaved:    opts.OnSaved,
		Logger:     a.Log,
	})
	defer agent.Close()
	p.Drive(agent.Hover())
	a.AttachPage(agent.Channel())
	defer a.AttachPage(nil)

	a.Log.Info().Str("url", p.URL()).Msg("watching, hover over media to save it")
	select {
	case <-ctx.Done():
	case <-p.Done():
		a.Log.Info().Msg("tab closed")
	}
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.Settings != nil {
		a.Settings.Close()
	}
	if a.local != nil {
		a.page.setFallback(nil)
		a.local.Close()
	}
	if a.Background != nil {
		a.Background.Close()
	}
	if a.DB != nil {
		if err := storage.Close(a.DB); err != nil {
			a.Log.Warn().Err(err).Msg("close storage")
		}
	}
}
