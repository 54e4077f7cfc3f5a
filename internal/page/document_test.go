package page

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hoversave/internal/settings"
	"hoversave/media"
)

const galleryHTML = `<!doctype html>
<html><head>
<base href="https://cdn.example.com/assets/">
<style>
.hero { width: 300px; height: 200px; background-image: url("bg/hero.png"); }
@media print { .hero { background-image: none; } }
</style>
</head><body>
<img id="a" src="photo.jpg" width="640" height="480" alt="A photo">
<img id="dup" src="https://cdn.example.com/assets/photo.jpg" width="200" height="200">
<img id="small" src="icon.png" width="16" height="16">
<img id="srcset" srcset="s.jpg 320w, l.jpg 1280w" style="width:400px;height:300px">
<img id="hidden" src="hid.png" width="500" height="500" style="display:none">
<video id="v" width="640" height="360" title="Clip"><source src="clip.mp4" type="video/mp4"></video>
<div id="hero" class="hero" title="Hero"></div>
<svg id="logo" width="200" height="200" viewBox="0 0 10 10" aria-label="Logo"><circle cx="5" cy="5" r="4"/></svg>
</body></html>`

func parseGallery(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse(context.Background(), strings.NewReader(galleryHTML), Options{URL: "https://example.com/gallery"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func one(t *testing.T, doc *Document, sel string) Element {
	t.Helper()
	els := doc.Find(sel)
	if len(els) != 1 {
		t.Fatalf("%s matched %d elements", sel, len(els))
	}
	return els[0]
}

func TestDocumentBaseAndProps(t *testing.T) {
	doc := parseGallery(t)
	if doc.BaseURL() != "https://cdn.example.com/assets/" {
		t.Fatalf("base = %q", doc.BaseURL())
	}
	a := one(t, doc, "#a")
	if a.Prop("src") != "https://cdn.example.com/assets/photo.jpg" {
		t.Fatalf("src = %q", a.Prop("src"))
	}
	if r := a.BoundingRect(); r.Width != 640 || r.Height != 480 {
		t.Fatalf("rect = %+v", r)
	}
	if got := one(t, doc, "#srcset").Prop("currentSrc"); got != "https://cdn.example.com/assets/l.jpg" {
		t.Fatalf("currentSrc = %q", got)
	}
	if got := one(t, doc, "#v").Sources(); len(got) != 1 || got[0] != "https://cdn.example.com/assets/clip.mp4" {
		t.Fatalf("sources = %v", got)
	}
	if r := one(t, doc, "#hidden").BoundingRect(); r.Width != 0 || r.Height != 0 {
		t.Fatalf("hidden element should have an empty box, got %+v", r)
	}
	if got := BackgroundURL(one(t, doc, "#hero").ComputedStyle("background-image")); got != "https://cdn.example.com/assets/bg/hero.png" {
		t.Fatalf("background = %q", got)
	}
}

func TestDocumentMarkupAndDetach(t *testing.T) {
	doc := parseGallery(t)
	logo := one(t, doc, "#logo")
	m, err := logo.Markup()
	if err != nil {
		t.Fatalf("markup: %v", err)
	}
	if !strings.HasPrefix(m, "<svg") || !strings.Contains(m, "<circle") {
		t.Fatalf("markup = %q", m)
	}

	before, _ := doc.Elements(context.Background())
	if !logo.Connected() {
		t.Fatalf("expected connected")
	}
	doc.Detach(logo)
	if logo.Connected() {
		t.Fatalf("expected detached")
	}
	after, _ := doc.Elements(context.Background())
	// svg and its circle child both go
	if len(after) != len(before)-2 {
		t.Fatalf("elements %d -> %d", len(before), len(after))
	}
}

func TestLoadProbesNaturalSize(t *testing.T) {
	img, err := media.EncodePNG(solid(150, 120))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><link rel="stylesheet" href="/s.css"></head>
			<body><img id="p" src="/pic.png"><img id="w" src="/pic.png" class="half"></body></html>`))
	})
	mux.HandleFunc("/s.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte(`.half { width: 300px }`))
	})
	mux.HandleFunc("/pic.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := media.NewFetcher(media.FetcherConfig{})
	doc, err := Load(context.Background(), f, srv.URL+"/page", Options{ProbeSizes: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r := one(t, doc, "#p").BoundingRect(); r.Width != 150 || r.Height != 120 {
		t.Fatalf("natural rect = %+v", r)
	}
	if r := one(t, doc, "#w").BoundingRect(); r.Width != 300 || r.Height != 240 {
		t.Fatalf("scaled rect = %+v", r)
	}

	snap := settings.Defaults()
	got, err := Scan(context.Background(), doc, snap)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].SourceURL != srv.URL+"/pic.png" || got[0].DisplayWidth != 150 {
		t.Fatalf("scan = %+v", got)
	}
}

func solid(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}
