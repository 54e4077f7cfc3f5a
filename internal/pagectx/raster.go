package pagectx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hoversave/internal/bus"
	"hoversave/media"
)

// DefaultRasterTimeout bounds one load, draw and export round trip.
const DefaultRasterTimeout = 10 * time.Second

// Rasterizer draws an image onto an offscreen surface and exports it.
type Rasterizer interface {
	Rasterize(ctx context.Context, req bus.RasterizeRequest) (bus.RasterizeReply, error)
}

// LocalRasterizer decodes the image in process instead of in a browser
// canvas. Only PNG export is supported.
type LocalRasterizer struct {
	Fetcher *media.Fetcher
	Timeout time.Duration
	// MaxPixels and MaxDimension bound what will be decoded; <= 0 is unbounded.
	MaxPixels    int
	MaxDimension int
}

func (r LocalRasterizer) Rasterize(ctx context.Context, req bus.RasterizeRequest) (bus.RasterizeReply, error) {
	if f := strings.ToLower(req.Format); f != "" && f != "png" && f != "image/png" {
		return bus.RasterizeReply{}, fmt.Errorf("raster: export format %q not supported", req.Format)
	}
	if r.Fetcher == nil {
		return bus.RasterizeReply{}, fmt.Errorf("raster: no fetcher")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRasterTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, _, err := r.Fetcher.Cached(req.URL)
	if err != nil {
		resp, gerr := r.Fetcher.Get(ctx, req.URL, "")
		if gerr != nil {
			return bus.RasterizeReply{}, fmt.Errorf("raster: load: %w", gerr)
		}
		data = resp.Data
	}
	if _, _, err := media.CheckDecodeLimits(data, r.MaxPixels, r.MaxDimension); err != nil {
		return bus.RasterizeReply{}, fmt.Errorf("raster: load: %w", err)
	}
	png, err := media.RasterToPNG(data)
	if err != nil {
		return bus.RasterizeReply{}, fmt.Errorf("raster: draw: %w", err)
	}
	w, h, _, err := media.ImageSize(png)
	if err != nil {
		return bus.RasterizeReply{}, fmt.Errorf("raster: export: %w", err)
	}
	return bus.RasterizeReply{DataURI: media.DataURI("image/png", png), Width: w, Height: h}, nil
}
