package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"hoversave/internal/bus"
	"hoversave/media"
)

func (c *Coordinator) fromCache(req media.DownloadRequest) media.Outcome {
	if c.cfg.Fetcher == nil {
		return media.Failf(media.FailureUnknown, "no response cache")
	}
	data, mt, err := c.cfg.Fetcher.Cached(req.SourceURL)
	if err != nil {
		return media.Failf(media.FailureUnknown, "%v", err)
	}
	return media.Success{Data: data, MIME: media.SniffMIME(data, mt)}
}

// rasterize asks the page context to draw rawURL and export it as PNG.
func (c *Coordinator) rasterize(ctx context.Context, rawURL string) media.Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RasterTimeout)
	defer cancel()
	var reply bus.RasterizeReply
	err := bus.Call(ctx, c.cfg.Page, bus.TypeRasterize, bus.RasterizeRequest{URL: rawURL, Format: "image/png"}, &reply)
	if err != nil {
		return transportFailure(err)
	}
	data, mt, err := media.DecodeDataURI(reply.DataURI)
	if err != nil {
		return media.Failf(media.FailureDecodeError, "raster export: %v", err)
	}
	if len(data) == 0 {
		return media.Failf(media.FailureDecodeError, "raster export is empty")
	}
	return media.Success{Data: data, MIME: mt}
}

func (c *Coordinator) webpToPNG(ctx context.Context, req media.DownloadRequest) media.Outcome {
	if !media.IsWebPLike(req.SourceURL) {
		return media.Failf(media.FailureUnsupportedFormat, "not a webp source")
	}
	if c.cfg.Fetcher == nil {
		return media.Failf(media.FailureTransport, "no fetcher")
	}
	resp, err := c.cfg.Fetcher.Head(ctx, req.SourceURL, webpProbeBytes)
	if err != nil {
		return transportFailure(err)
	}
	if anim := media.IsAnimated(resp.Data, resp.Truncated); anim.MaybeAnimated() {
		return media.Failf(media.FailureUnsupportedFormat, "webp is %s", anim)
	}
	return c.rasterize(ctx, req.SourceURL)
}

func (c *Coordinator) nextGen(ctx context.Context, req media.DownloadRequest) media.Outcome {
	codec := c.cfg.Codec
	if codec == nil {
		return media.Failf(media.FailureUnknown, "no codec available")
	}
	if !media.IsJPEGLike(req.SourceURL) {
		return media.Failf(media.FailureUnsupportedFormat, "not a jpeg source")
	}
	data, err := c.sourceBytes(ctx, req.SourceURL)
	if err != nil {
		return transportFailure(err)
	}
	if _, _, err := media.CheckDecodeLimits(data, c.cfg.MaxPixels, c.cfg.MaxDimension); err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return media.Failf(media.FailureSizeLimitExceeded, "%v", err)
		}
		return media.Failf(media.FailureDecodeError, "read header: %v", err)
	}
	img, err := media.DecodeImage(data)
	if err != nil {
		return media.Failf(media.FailureDecodeError, "decode: %v", err)
	}

	snap := c.cfg.Settings.Snapshot()
	opts := CodecOptions{Quality: 85, Effort: snap.CodecEffort, Lossless: snap.CodecLossless}
	if opts.Lossless {
		opts.Quality = 100
	}
	return c.encode(ctx, codec, img, opts)
}

func (c *Coordinator) sourceBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if c.cfg.Fetcher == nil {
		return nil, errors.New("no fetcher")
	}
	if data, _, err := c.cfg.Fetcher.Cached(rawURL); err == nil {
		return data, nil
	}
	resp, err := c.cfg.Fetcher.Get(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// encode runs the codec under the codec timeout. A result that arrives after
// the deadline is dropped and a panic becomes an Unknown failure.
func (c *Coordinator) encode(ctx context.Context, codec Codec, img image.Image, opts CodecOptions) media.Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CodecTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("codec panic: %v", p)}
			}
		}()
		data, err := codec.Encode(ctx, img, opts)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return media.Failf(media.FailureTimeout, "encode exceeded %s", c.cfg.CodecTimeout)
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return media.Failf(media.FailureTimeout, "%v", r.err)
			}
			return media.Failf(media.FailureUnknown, "%v", r.err)
		}
		if len(r.data) == 0 {
			return media.Failf(media.FailureUnknown, "codec produced no output")
		}
		return media.Success{Data: r.data, MIME: codec.MIME()}
	}
}

// transportFailure classifies an error from a fetch or a context round trip.
func transportFailure(err error) media.Failure {
	var remote *bus.RemoteError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return media.Failf(media.FailureTimeout, "%v", err)
	case errors.As(err, &remote):
		return media.Failf(media.FailureDecodeError, "%s", remote.Msg)
	default:
		return media.Failf(media.FailureTransport, "%v", err)
	}
}
