// Package pagectx is the page-side half of hoversave. An Agent owns the hover
// controller of one page, answers the background's scan, rasterize and
// settings messages, and forwards save actions as download requests.
package pagectx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hoversave/internal/bus"
	"hoversave/internal/hover"
	"hoversave/internal/page"
	"hoversave/internal/settings"
	"hoversave/media"
)

const saveTimeout = 2 * time.Minute

type Config struct {
	Source page.Source
	// Surface draws the affordance; nil disables hover interaction.
	Surface    hover.Surface
	Rasterizer Rasterizer
	// Background receives download requests.
	Background bus.Channel
	Settings   settings.Snapshot
	Scheduler  hover.Scheduler
	// OnSaved is told how each save ended. It may be nil.
	OnSaved func(media.DownloadRequest, bus.DownloadReply, error)
	Logger  zerolog.Logger
	Clock   func() time.Time
}

type Agent struct {
	cfg      Config
	log      zerolog.Logger
	bus      *bus.Bus
	settings *settings.Cache
	hover    *hover.Controller

	ctx    context.Context
	cancel context.CancelFunc
	saves  sync.WaitGroup
}

func New(cfg Config) *Agent {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	a := &Agent{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "pagectx").Logger(),
		bus:      bus.New(cfg.Logger),
		settings: settings.Fixed(cfg.Settings),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if cfg.Surface != nil {
		a.hover = hover.New(hover.Config{
			Surface:     cfg.Surface,
			Settings:    a.settings,
			DocumentURL: a.documentURL,
			OnSave:      a.Save,
			Scheduler:   cfg.Scheduler,
			Logger:      cfg.Logger,
		})
		a.settings.OnChange(a.hover.SettingsChanged)
	}

	a.bus.Handle(bus.TypeScanImages, a.handleScan)
	a.bus.Handle(bus.TypeRasterize, a.handleRasterize)
	a.bus.Handle(bus.TypeSettingsUpdated, a.handleSettings)
	return a
}

// Channel is the endpoint the background talks to.
func (a *Agent) Channel() *bus.Bus { return a.bus }

// Hover returns the controller, or nil when the agent has no surface.
func (a *Agent) Hover() *hover.Controller { return a.hover }

func (a *Agent) Settings() settings.Snapshot { return a.settings.Snapshot() }

func (a *Agent) documentURL() string {
	if a.cfg.Source == nil {
		return ""
	}
	return a.cfg.Source.URL()
}

// Request builds the download request for a save of c under the current
// settings.
func (a *Agent) Request(c media.Candidate) media.DownloadRequest {
	snap := a.settings.Snapshot()
	return media.DownloadRequest{
		SourceURL:      c.SourceURL,
		TargetFilename: media.FilenameFor(c.SourceURL, c.Kind, a.cfg.Clock()),
		Mode:           snap.ResolveMode(c.SourceURL),
		Kind:           c.Kind,
	}
}

// Save dispatches one download request for c and returns immediately.
func (a *Agent) Save(c media.Candidate) {
	req := a.Request(c)
	a.saves.Add(1)
	go func() {
		defer a.saves.Done()
		ctx, cancel := context.WithTimeout(a.ctx, saveTimeout)
		defer cancel()
		var reply bus.DownloadReply
		err := bus.Call(ctx, a.cfg.Background, bus.TypeDownload, req, &reply)
		if err == nil && reply.Error != "" {
			err = errors.New(reply.Error)
		}
		log := a.log.With().Str("url", req.SourceURL).Stringer("mode", req.Mode).Logger()
		switch {
		case errors.Is(err, bus.ErrNoListener):
			log.Warn().Msg("no background listener, save dropped")
		case err != nil:
			log.Error().Err(err).Msg("save failed")
		default:
			log.Info().Str("handle", reply.Handle).Str("filename", reply.Filename).Msg("saved")
		}
		if a.cfg.OnSaved != nil {
			a.cfg.OnSaved(req, reply, err)
		}
	}()
}

// Wait blocks until every dispatched save has finished.
func (a *Agent) Wait() { a.saves.Wait() }

// Close resets the hover session, abandons pending saves and stops answering
// messages.
func (a *Agent) Close() {
	if a.hover != nil {
		a.hover.Reset()
	}
	a.cancel()
	a.bus.Close()
	a.saves.Wait()
}

func (a *Agent) handleScan(ctx context.Context, _ json.RawMessage) (any, error) {
	if a.cfg.Source == nil {
		return nil, errors.New("pagectx: no document")
	}
	found, err := page.Scan(ctx, a.cfg.Source, a.settings.Snapshot())
	if err != nil {
		return nil, err
	}
	return bus.ScanReply{URL: a.cfg.Source.URL(), Candidates: found}, nil
}

func (a *Agent) handleRasterize(ctx context.Context, payload json.RawMessage) (any, error) {
	if a.cfg.Rasterizer == nil {
		return nil, errors.New("pagectx: no raster surface")
	}
	var req bus.RasterizeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("pagectx: decode rasterize request: %w", err)
	}
	if req.URL == "" {
		return nil, errors.New("pagectx: rasterize request has no url")
	}
	return a.cfg.Rasterizer.Rasterize(ctx, req)
}

// handleSettings applies a partial or full settings map. Nothing is applied
// unless every key decodes.
func (a *Agent) handleSettings(_ context.Context, payload json.RawMessage) (any, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("pagectx: decode settings: %w", err)
	}
	next, err := settings.ApplyMap(a.settings.Snapshot(), m)
	if err != nil {
		return nil, err
	}
	a.settings.Replace(next)
	return nil, nil
}
