package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.RGBA{uint8((x + y) % 256), uint8((2 * x) % 256), uint8((3 * y) % 256), 0xFF})
		}
	}
	return src
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func TestRasterToPNGRoundTrip(t *testing.T) {
	out, err := RasterToPNG(jpegBytes(t, 64, 32))
	if err != nil {
		t.Fatalf("RasterToPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not png: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestRasterToPNGRejectsGarbage(t *testing.T) {
	if _, err := RasterToPNG([]byte("definitely not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDrawToSurfaceNormalisesOrigin(t *testing.T) {
	src := gradient(20, 10).SubImage(image.Rect(5, 2, 15, 8))
	dst := DrawToSurface(src)
	if dst.Bounds().Min != (image.Point{}) || dst.Bounds().Dx() != 10 || dst.Bounds().Dy() != 6 {
		t.Fatalf("unexpected surface bounds %v", dst.Bounds())
	}
	r1, g1, b1, _ := src.At(5, 2).RGBA()
	r2, g2, b2, _ := dst.At(0, 0).RGBA()
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Fatal("top-left pixel not preserved")
	}
}

func TestImageSizeReadsHeaderOnly(t *testing.T) {
	w, h, format, err := ImageSize(jpegBytes(t, 120, 45))
	if err != nil {
		t.Fatalf("ImageSize: %v", err)
	}
	if w != 120 || h != 45 || format != "jpeg" {
		t.Fatalf("got %dx%d %s", w, h, format)
	}
}

func TestDecodeDataURI(t *testing.T) {
	data, mt, err := DecodeDataURI("data:image/svg+xml;base64,PHN2Zz48L3N2Zz4=")
	if err != nil {
		t.Fatalf("DecodeDataURI: %v", err)
	}
	if mt != "image/svg+xml" || string(data) != "<svg></svg>" {
		t.Fatalf("got %q %q", mt, data)
	}
	data, mt, err = DecodeDataURI("data:,hello%20world")
	if err != nil || mt != "text/plain" || string(data) != "hello world" {
		t.Fatalf("plain data uri: %q %q %v", data, mt, err)
	}
	if _, _, err := DecodeDataURI("https://example.com/x.png"); err != ErrNotDataURI {
		t.Fatalf("expected ErrNotDataURI, got %v", err)
	}
}

func TestFormatLikeness(t *testing.T) {
	cases := []struct {
		url        string
		webp, jpeg bool
	}{
		{"https://ex.com/a.webp", true, false},
		{"https://ex.com/a.WEBP?x=1", true, false},
		{"https://ex.com/img?format=webp", true, false},
		{"https://ex.com/a.jpg", false, true},
		{"https://ex.com/a.JPEG#frag", false, true},
		{"https://ex.com/a.png", false, false},
		{"data:image/webp;base64,AAAA", true, false},
		{"data:image/jpeg;base64,AAAA", false, true},
	}
	for _, tc := range cases {
		if got := IsWebPLike(tc.url); got != tc.webp {
			t.Fatalf("IsWebPLike(%q) = %v", tc.url, got)
		}
		if got := IsJPEGLike(tc.url); got != tc.jpeg {
			t.Fatalf("IsJPEGLike(%q) = %v", tc.url, got)
		}
	}
}

func TestSniffMIME(t *testing.T) {
	webp := webpFile(riffChunk("VP8 ", make([]byte, 10)))
	if got := SniffMIME(webp, "application/octet-stream"); got != "image/webp" {
		t.Fatalf("got %q", got)
	}
	if got := SniffMIME(jpegBytes(t, 4, 4), ""); got != "image/jpeg" {
		t.Fatalf("got %q", got)
	}
	if got := SniffMIME([]byte("x"), "image/avif; charset=binary"); got != "image/avif" {
		t.Fatalf("got %q", got)
	}
	avif := append([]byte{0, 0, 0, 0x1c}, "ftypavif\x00\x00\x00\x00avifmif1miaf"...)
	if got := SniffMIME(avif, "application/octet-stream"); got != "image/avif" {
		t.Fatalf("avif sniffed as %q", got)
	}
	if got := SniffMIME([]byte("plain words"), ""); got != "text/plain" {
		t.Fatalf("text sniffed as %q", got)
	}
}

func TestThumbnail(t *testing.T) {
	img := Thumbnail(gradient(400, 200), 100, 100)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Fatalf("unexpected thumbnail bounds %v", img.Bounds())
	}
	small := gradient(10, 10)
	if Thumbnail(small, 100, 100) != image.Image(small) {
		t.Fatal("expected small image to be returned as is")
	}
}

func TestCheckDecodeLimits(t *testing.T) {
	data := jpegBytes(t, 40, 10)
	if _, _, err := CheckDecodeLimits(data, 400, 40); err != nil {
		t.Fatalf("within limits: %v", err)
	}
	if _, _, err := CheckDecodeLimits(data, 399, 0); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("pixel limit: got %v", err)
	}
	if w, h, err := CheckDecodeLimits(data, 0, 39); !errors.Is(err, ErrTooLarge) || w != 40 || h != 10 {
		t.Fatalf("side limit: got %dx%d %v", w, h, err)
	}
	if _, _, err := CheckDecodeLimits([]byte("nope"), 0, 0); err == nil || errors.Is(err, ErrTooLarge) {
		t.Fatalf("garbage: got %v", err)
	}
}
