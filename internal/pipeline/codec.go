package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/avif"
)

// CodecOptions tune a next-generation encode.
type CodecOptions struct {
	// Quality is 0..100; 100 with Lossless requests a lossless encode.
	Quality  int
	Effort   int
	Lossless bool
}

// Codec converts a decoded raster into a next-generation format. Encode may
// be slow; callers bound it with ctx.
type Codec interface {
	Encode(ctx context.Context, img image.Image, opts CodecOptions) ([]byte, error)
	Extension() string
	MIME() string
}

// AVIF encodes with libavif compiled to WebAssembly.
type AVIF struct{}

func (AVIF) Extension() string { return ".avif" }
func (AVIF) MIME() string      { return "image/avif" }

func (AVIF) Encode(ctx context.Context, img image.Image, opts CodecOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := opts.Quality
	if opts.Lossless {
		q = 100
	}
	// effort 1..10 maps onto libavif speed 9..0
	speed := 10 - opts.Effort
	if speed < 0 {
		speed = 0
	}
	if speed > 10 {
		speed = 10
	}
	o := avif.Options{Quality: q, QualityAlpha: q, Speed: speed}
	if opts.Lossless {
		o.ChromaSubsampling = image.YCbCrSubsampleRatio444
	}
	var buf bytes.Buffer
	if err := avif.Encode(&buf, img, o); err != nil {
		return nil, fmt.Errorf("avif: %w", err)
	}
	return buf.Bytes(), nil
}
