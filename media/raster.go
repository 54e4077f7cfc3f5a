package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/url"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrNotDataURI is returned by DecodeDataURI for anything but a data: URI.
var ErrNotDataURI = errors.New("media: not a data uri")

// DecodeDataURI returns the payload and media type of a data: URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	// data:[<mediatype>][;base64],<data>
	comma := strings.IndexByte(uri, ',')
	if !strings.HasPrefix(uri, "data:") || comma == -1 {
		return nil, "", ErrNotDataURI
	}
	meta := uri[len("data:"):comma]
	payload := uri[comma+1:]
	mt := dataURIMediaType(uri)
	if mt == "" {
		mt = "text/plain"
	}
	if strings.Contains(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			if b2, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err2 == nil {
				return b2, mt, nil
			}
			return nil, "", fmt.Errorf("data uri: %w", err)
		}
		return b, mt, nil
	}
	dec, err := url.PathUnescape(payload)
	if err != nil {
		return []byte(payload), mt, nil
	}
	return []byte(dec), mt, nil
}

// DataURI encodes data as a base64 data: URI.
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SniffMIME reports the media type of data, preferring a non-generic hint.
func SniffMIME(data []byte, hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if i := strings.IndexByte(hint, ';'); i >= 0 {
		hint = strings.TrimSpace(hint[:i])
	}
	if IsWebP(data) {
		return "image/webp"
	}
	if hint != "" && hint != "application/octet-stream" && hint != "binary/octet-stream" {
		return hint
	}
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

func urlPathLower(raw string) string {
	if u, err := url.Parse(StripFragment(raw)); err == nil && !strings.HasPrefix(raw, "data:") {
		return strings.ToLower(u.Path)
	}
	return strings.ToLower(raw)
}

// IsWebPLike reports whether a URL looks like it serves WebP.
func IsWebPLike(raw string) bool {
	if strings.HasPrefix(raw, "data:") {
		return dataURIMediaType(raw) == "image/webp"
	}
	if strings.Contains(urlPathLower(raw), ".webp") {
		return true
	}
	if u, err := url.Parse(raw); err == nil {
		q := u.Query()
		for _, k := range []string{"format", "fm", "fmt"} {
			if strings.EqualFold(q.Get(k), "webp") {
				return true
			}
		}
	}
	return false
}

// IsJPEGLike reports whether a URL looks like it serves JPEG.
func IsJPEGLike(raw string) bool {
	if strings.HasPrefix(raw, "data:") {
		mt := dataURIMediaType(raw)
		return mt == "image/jpeg" || mt == "image/jpg"
	}
	ext := path.Ext(urlPathLower(raw))
	return ext == ".jpg" || ext == ".jpeg" || ext == ".jfif" || ext == ".pjpeg"
}

// ImageSize reads dimensions from the image header only.
func ImageSize(data []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}

// ErrTooLarge is returned by CheckDecodeLimits for images over the limits.
var ErrTooLarge = errors.New("media: image too large")

// CheckDecodeLimits reads only the header of data and refuses images with
// more than maxPixels or a side longer than maxDim. A limit <= 0 is ignored.
func CheckDecodeLimits(data []byte, maxPixels, maxDim int) (int, int, error) {
	w, h, _, err := ImageSize(data)
	if err != nil {
		return 0, 0, err
	}
	if (maxDim > 0 && (w > maxDim || h > maxDim)) || (maxPixels > 0 && w*h > maxPixels) {
		return w, h, fmt.Errorf("%w: %dx%d exceeds %d px or %d px per side", ErrTooLarge, w, h, maxPixels, maxDim)
	}
	return w, h, nil
}

// DecodeImage decodes data honouring EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DrawToSurface paints img onto a fresh NRGBA surface at its natural size,
// the way a canvas drawImage call would.
func DrawToSurface(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// EncodePNG is a lossless export of img.
func EncodePNG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// RasterToPNG decodes any supported raster format and re-exports it as PNG.
func RasterToPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return EncodePNG(DrawToSurface(img))
}

// Thumbnail scales img to fit within maxW×maxH, keeping aspect ratio.
func Thumbnail(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	if maxW <= 0 || maxH <= 0 || (b.Dx() <= maxW && b.Dy() <= maxH) {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}
