package page

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

func TestCSSLengthToPx(t *testing.T) {
	tests := []struct {
		in   string
		base int
		want int
		ok   bool
	}{
		{"120px", 0, 120, true},
		{" 99.6px ", 0, 100, true},
		{"50%", 400, 200, true},
		{"50%", 0, 0, false},
		{"2em", 0, 32, true},
		{"1.5rem", 0, 24, true},
		{"10vw", 1000, 100, true},
		{"300", 0, 300, true},
		{"300px !important", 0, 300, true},
		{"auto", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := cssLengthToPx(tt.in, tt.base)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("cssLengthToPx(%q, %d) = %d, %v; want %d, %v", tt.in, tt.base, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMediaRuleActive(t *testing.T) {
	vp := viewport{width: 1280, height: 800}
	tests := []struct {
		prelude string
		want    bool
	}{
		{"", true},
		{"screen", true},
		{"print", false},
		{"only screen and (min-width: 1024px)", true},
		{"screen and (max-width: 600px)", false},
		{"(min-width: 600px) and (max-width: 1400px)", true},
		{"print, (orientation: landscape)", true},
		{"(orientation: portrait)", false},
		{"speech", false},
	}
	for _, tt := range tests {
		if got := mediaRuleActive(tt.prelude, vp); got != tt.want {
			t.Fatalf("mediaRuleActive(%q) = %v, want %v", tt.prelude, got, tt.want)
		}
	}
}

func TestBackgroundURL(t *testing.T) {
	tests := map[string]string{
		`url("a.png")`:                           "a.png",
		`url('b c.jpg') no-repeat`:               "b c.jpg",
		`linear-gradient(red, blue), url(x.gif)`: "x.gif",
		`url(none), url(real.webp)`:              "real.webp",
		`none`:                                   "",
		`url(unterminated`:                       "",
		`url(data:image/png;base64,AAAA)`:        "data:image/png;base64,AAAA",
	}
	for in, want := range tests {
		if got := BackgroundURL(in); got != want {
			t.Fatalf("BackgroundURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractImportTarget(t *testing.T) {
	tests := []struct {
		in, url, media string
	}{
		{`url("a.css") screen`, "a.css", "screen"},
		{`'b.css'`, "b.css", ""},
		{`c.css print`, "c.css", "print"},
	}
	for _, tt := range tests {
		u, m := extractImportTarget(tt.in)
		if u != tt.url || m != tt.media {
			t.Fatalf("extractImportTarget(%q) = %q, %q", tt.in, u, m)
		}
	}
}

func parseFragment(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && getAttr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findByID(c, id); f != nil {
			return f
		}
	}
	return nil
}

func TestCascadeOrder(t *testing.T) {
	doc := parseFragment(t, `<html><head><style>
		#x { width: 10px; }
		.c { width: 20px; height: 5px !important; }
		div { width: 30px; background: #fff url("tile.png") repeat; }
		</style></head><body>
		<div id="x" class="c" style="height: 7px"></div>
		<div id="y" class="c" style="width: 40px"></div>
		</body></html>`)
	ss := buildStylesheet(context.Background(), doc, "https://ex.com/", nil, viewport{}, zerolog.Nop())
	if ss == nil {
		t.Fatalf("expected stylesheet")
	}

	x := computeStyleFor(findByID(doc, "x"), ss)
	if x["width"] != "10px" {
		t.Fatalf("id selector should win: %q", x["width"])
	}
	if x["height"] != "5px" {
		t.Fatalf("!important should beat inline: %q", x["height"])
	}
	if BackgroundURL(x["background-image"]) != "tile.png" {
		t.Fatalf("background shorthand not mapped: %q", x["background-image"])
	}

	y := computeStyleFor(findByID(doc, "y"), ss)
	if y["width"] != "40px" {
		t.Fatalf("inline style should win: %q", y["width"])
	}
}

func TestStylesheetImportsAndLinks(t *testing.T) {
	doc := parseFragment(t, `<html><head>
		<link rel="stylesheet" href="/main.css">
		<link rel="alternate stylesheet" href="/alt.css">
		<link rel="stylesheet" href="/print.css" media="print">
		</head><body><p id="p"></p></body></html>`)
	sheets := map[string]string{
		"https://ex.com/main.css":        `@import url("parts/extra.css"); p { width: 1px; }`,
		"https://ex.com/parts/extra.css": `@import "/main.css"; p { height: 2px; }`,
		"https://ex.com/alt.css":         `p { width: 99px; }`,
		"https://ex.com/print.css":       `p { width: 98px; }`,
	}
	var fetched []string
	fetch := func(_ context.Context, abs string) ([]byte, bool) {
		fetched = append(fetched, abs)
		s, ok := sheets[abs]
		return []byte(s), ok
	}
	ss := buildStylesheet(context.Background(), doc, "https://ex.com/index.html", fetch, viewport{}, zerolog.Nop())
	st := computeStyleFor(findByID(doc, "p"), ss)
	if st["width"] != "1px" || st["height"] != "2px" {
		t.Fatalf("unexpected styles %v", st)
	}
	if len(fetched) != 2 {
		t.Fatalf("expected main and extra only, fetched %v", fetched)
	}
}
