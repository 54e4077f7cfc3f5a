// Package pipeline executes download requests. Each mode tries a conversion
// strategy and any failure degrades to a plain URL download, so a request
// always ends in exactly one sink call or a reported platform failure.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hoversave/internal/bus"
	"hoversave/internal/settings"
	"hoversave/internal/sink"
	"hoversave/media"
)

const (
	DefaultCodecTimeout  = 30 * time.Second
	DefaultRasterTimeout = 10 * time.Second
	DefaultMaxPixels     = 4_000_000
	DefaultMaxDimension  = 3000

	// webpProbeBytes is enough to reach the VP8X flags and the first chunks.
	webpProbeBytes = 1024
)

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

type Config struct {
	Sink    sink.Sink
	Fetcher *media.Fetcher
	// Page reaches the page context for raster work; nil disables it.
	Page bus.Channel
	// Codec is the next-gen encoder; nil disables NextGen conversion.
	Codec    Codec
	Settings SettingsSource

	CodecTimeout  time.Duration
	RasterTimeout time.Duration
	MaxPixels     int
	MaxDimension  int

	Logger zerolog.Logger
	Clock  func() time.Time
}

// Coordinator runs DownloadRequests against the configured collaborators.
type Coordinator struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Coordinator {
	if cfg.CodecTimeout <= 0 {
		cfg.CodecTimeout = DefaultCodecTimeout
	}
	if cfg.RasterTimeout <= 0 {
		cfg.RasterTimeout = DefaultRasterTimeout
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Fixed(settings.Defaults())
	}
	return &Coordinator{cfg: cfg, log: cfg.Logger.With().Str("component", "pipeline").Logger()}
}

// Result describes what Execute did.
type Result struct {
	Handle sink.Handle
	// Requested is the mode asked for; Mode is the one that produced the file.
	Requested media.Mode
	Mode      media.Mode
	Filename  string
	// Fallback is set when the requested conversion failed.
	Fallback *media.Failure
	// Err is a platform download failure that survived the retry.
	Err error
}

// Reply converts r into its wire form.
func (r Result) Reply() bus.DownloadReply {
	out := bus.DownloadReply{Handle: string(r.Handle), Mode: r.Mode, Filename: r.Filename, Fallback: r.Fallback}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Execute carries out req. It never panics and never returns without either
// a handle or Err.
func (c *Coordinator) Execute(ctx context.Context, req media.DownloadRequest) Result {
	req.SourceURL = media.StripFragment(strings.TrimSpace(req.SourceURL))
	res := Result{Requested: req.Mode, Mode: req.Mode, Filename: req.TargetFilename}
	log := c.log.With().Str("url", logURL(req.SourceURL)).Stringer("mode", req.Mode).Logger()

	var out media.Outcome
	ext := ""
	switch req.Mode {
	case media.ModeNormal:
		return c.normal(ctx, req, res)
	case media.ModeCacheAssisted:
		out = c.fromCache(req)
	case media.ModeCanvasExtraction:
		out = c.rasterize(ctx, req.SourceURL)
	case media.ModeWebpToPNG:
		out = c.webpToPNG(ctx, req)
		ext = ".png"
	case media.ModeNextGen:
		out = c.nextGen(ctx, req)
		if c.cfg.Codec != nil {
			ext = c.cfg.Codec.Extension()
		}
	default:
		out = media.Failf(media.FailureUnsupportedFormat, "unknown mode %d", req.Mode)
	}

	switch o := out.(type) {
	case media.Success:
		if ext != "" {
			res.Filename = media.ReplaceExtension(c.filenameFor(req), ext)
		}
		h, err := c.cfg.Sink.Download(ctx, sink.Item{URL: req.SourceURL, Data: o.Data, MIME: o.MIME, Filename: res.Filename, Mode: req.Mode})
		if err == nil {
			res.Handle = h
			log.Info().Str("handle", string(h)).Msg("converted download stored")
			return res
		}
		// retried as a plain download under the sink's own name
		log.Warn().Err(err).Msg("sink rejected converted bytes")
		res.Mode = media.ModeNormal
		res.Filename = ""
		return c.sinkURL(ctx, req, res, log)
	case media.Failure:
		f := o
		res.Fallback = &f
		ev := log.Warn()
		if f.Kind == media.FailureTransport || f.Kind == media.FailureUnsupportedFormat {
			ev = log.Debug()
		}
		ev.Str("failure", f.Kind.String()).Str("reason", f.Message).Msg("conversion failed, falling back")
	}
	res.Mode = media.ModeNormal
	return c.normal(ctx, req, res)
}

// DownloadDirect saves rawURL as a plain download named for target.
func (c *Coordinator) DownloadDirect(ctx context.Context, rawURL string, target media.DirectTarget) Result {
	req := media.DownloadRequest{
		SourceURL:      media.StripFragment(strings.TrimSpace(rawURL)),
		TargetFilename: media.DirectFilename(rawURL, target, c.cfg.Clock()),
		Mode:           media.ModeNormal,
	}
	return c.normal(ctx, req, Result{Requested: media.ModeNormal, Mode: media.ModeNormal, Filename: req.TargetFilename})
}

func (c *Coordinator) normal(ctx context.Context, req media.DownloadRequest, res Result) Result {
	log := c.log.With().Str("url", logURL(req.SourceURL)).Logger()
	h, err := c.cfg.Sink.Download(ctx, sink.Item{URL: req.SourceURL, Filename: res.Filename, Mode: media.ModeNormal})
	if err == nil {
		res.Handle = h
		log.Info().Str("handle", string(h)).Msg("download stored")
		return res
	}
	if res.Filename == "" {
		res.Err = fmt.Errorf("download %s: %w", logURL(req.SourceURL), err)
		log.Error().Err(err).Msg("download failed")
		return res
	}
	log.Warn().Err(err).Str("filename", res.Filename).Msg("download failed, retrying without filename")
	res.Filename = ""
	return c.sinkURL(ctx, req, res, log)
}

func (c *Coordinator) sinkURL(ctx context.Context, req media.DownloadRequest, res Result, log zerolog.Logger) Result {
	h, err := c.cfg.Sink.Download(ctx, sink.Item{URL: req.SourceURL, Mode: media.ModeNormal})
	if err != nil {
		res.Err = fmt.Errorf("download %s: %w", logURL(req.SourceURL), err)
		log.Error().Err(err).Msg("download failed")
		return res
	}
	res.Handle = h
	return res
}

func (c *Coordinator) filenameFor(req media.DownloadRequest) string {
	if req.TargetFilename != "" {
		return req.TargetFilename
	}
	return media.FilenameFor(req.SourceURL, req.Kind, c.cfg.Clock())
}

// HandleDownload serves bus.TypeDownload. Conversion failures are part of the
// reply; only a malformed request fails the call.
func (c *Coordinator) HandleDownload(ctx context.Context, payload json.RawMessage) (any, error) {
	var req media.DownloadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("pipeline: decode download request: %w", err)
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, errors.New("pipeline: download request has no url")
	}
	return c.Execute(ctx, req).Reply(), nil
}

// logURL keeps data: URIs out of log lines.
func logURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		if i := strings.IndexAny(u, ";,"); i > 0 {
			return u[:i] + ",…"
		}
		return "data:…"
	}
	return u
}
