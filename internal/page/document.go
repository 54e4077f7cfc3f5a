package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"hoversave/media"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800

	// probeBytes covers the header of every format image.DecodeConfig knows.
	probeBytes = 64 << 10
)

var errEmptyMarkup = errors.New("page: element has no markup")

// Options controls how a static document is loaded.
type Options struct {
	// URL is the document URL; relative references resolve against it or
	// against <base href>.
	URL            string
	ViewportWidth  int
	ViewportHeight int
	// Fetcher loads external stylesheets and, with ProbeSizes, image headers.
	// Nil keeps the document offline.
	Fetcher    *media.Fetcher
	ProbeSizes bool
	Log        zerolog.Logger
}

// Document is a parsed HTML page with a resolved CSS cascade. It has no
// layout engine: element boxes come from CSS or attribute dimensions, or
// from the image's natural size when probing is enabled.
type Document struct {
	url   string
	base  string
	root  *html.Node
	query *goquery.Document
	sheet *stylesheet
	vp    viewport

	elems []*node
	byPtr map[*html.Node]*node

	mu sync.Mutex
}

// Load fetches rawURL and parses it.
func Load(ctx context.Context, f *media.Fetcher, rawURL string, opts Options) (*Document, error) {
	if f == nil {
		return nil, errors.New("page: nil fetcher")
	}
	body, _, err := f.Text(ctx, rawURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	opts.URL = rawURL
	if opts.Fetcher == nil {
		opts.Fetcher = f
	}
	return Parse(ctx, bytes.NewReader(body), opts)
}

// Parse builds a Document from r.
func Parse(ctx context.Context, r io.Reader, opts Options) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse html: %w", err)
	}
	d := &Document{
		url:   opts.URL,
		root:  root,
		query: goquery.NewDocumentFromNode(root),
		vp:    viewport{width: opts.ViewportWidth, height: opts.ViewportHeight},
		byPtr: map[*html.Node]*node{},
	}
	if d.vp.width <= 0 {
		d.vp.width = defaultViewportWidth
	}
	if d.vp.height <= 0 {
		d.vp.height = defaultViewportHeight
	}
	d.base = findBaseURL(root, opts.URL)

	var fetch textFetcher
	if opts.Fetcher != nil {
		fetch = func(ctx context.Context, abs string) ([]byte, bool) {
			b, _, err := opts.Fetcher.Text(ctx, abs, "text/css")
			if err != nil {
				opts.Log.Debug().Err(err).Str("url", abs).Msg("stylesheet fetch failed")
				return nil, false
			}
			return b, true
		}
	}
	d.sheet = buildStylesheet(ctx, root, d.base, fetch, d.vp, opts.Log)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			el := &node{doc: d, n: n, id: "n" + strconv.Itoa(len(d.elems))}
			d.elems = append(d.elems, el)
			d.byPtr[n] = el
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if opts.ProbeSizes && opts.Fetcher != nil {
		d.probeNaturalSizes(ctx, opts.Fetcher, opts.Log)
	}
	return d, nil
}

// URL is the document URL.
func (d *Document) URL() string { return d.url }

// BaseURL is the URL relative references resolve against.
func (d *Document) BaseURL() string { return d.base }

// Elements returns every element in document order.
func (d *Document) Elements(context.Context) ([]Element, error) {
	out := make([]Element, 0, len(d.elems))
	for _, el := range d.elems {
		if el.Connected() {
			out = append(out, el)
		}
	}
	return out, nil
}

// Find returns the elements matching a CSS selector.
func (d *Document) Find(selector string) []Element {
	var out []Element
	d.query.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if el, ok := d.byPtr[s.Get(0)]; ok && el.Connected() {
			out = append(out, el)
		}
	})
	return out
}

// Styles returns the full computed declaration map for el.
func (d *Document) Styles(el Element) map[string]string {
	n, ok := el.(*node)
	if !ok || n.doc != d {
		return nil
	}
	return n.styles()
}

// Detach removes el's subtree from the document.
func (d *Document) Detach(el Element) {
	n, ok := el.(*node)
	if !ok || n.doc != d || n.n.Parent == nil {
		return
	}
	d.mu.Lock()
	n.n.Parent.RemoveChild(n.n)
	d.mu.Unlock()
}

func (d *Document) probeNaturalSizes(ctx context.Context, f *media.Fetcher, log zerolog.Logger) {
	for _, el := range d.elems {
		if el.Tag() != "img" {
			continue
		}
		if _, _, ok := el.declaredSize(); ok {
			continue
		}
		src := el.Prop("src")
		if src == "" {
			src = resolveAbsURL(d.base, PickSrcset(el.Attr("srcset")))
		}
		if src == "" {
			continue
		}
		resp, err := f.Head(ctx, src, probeBytes)
		if err != nil {
			log.Debug().Err(err).Str("url", src).Msg("size probe failed")
			continue
		}
		w, h, _, err := media.ImageSize(resp.Data)
		if err != nil {
			continue
		}
		el.natural = &Rect{Width: float64(w), Height: float64(h)}
	}
}

type node struct {
	doc *Document
	n   *html.Node
	id  string

	once     sync.Once
	computed map[string]string
	natural  *Rect
}

func (e *node) ID() string  { return e.id }
func (e *node) Tag() string { return strings.ToLower(e.n.Data) }

func (e *node) Attr(name string) string { return getAttr(e.n, name) }

func (e *node) Prop(name string) string {
	switch name {
	case "src":
		return resolveAbsURL(e.doc.base, e.Attr("src"))
	case "currentSrc":
		switch e.Tag() {
		case "img":
			if src := e.Prop("src"); src != "" {
				return src
			}
			return resolveAbsURL(e.doc.base, PickSrcset(e.Attr("srcset")))
		case "video":
			if src := e.Prop("src"); src != "" {
				return src
			}
			if s := e.Sources(); len(s) > 0 {
				return s[0]
			}
		}
		return ""
	}
	return e.Attr(name)
}

func (e *node) Sources() []string {
	var out []string
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, "source") {
			if src := resolveAbsURL(e.doc.base, getAttr(c, "src")); src != "" {
				out = append(out, src)
			}
		}
	}
	return out
}

func (e *node) styles() map[string]string {
	e.once.Do(func() {
		e.computed = computeStyleFor(e.n, e.doc.sheet)
	})
	return e.computed
}

// ComputedStyle mirrors getComputedStyle: url() in background-image comes
// back absolute.
func (e *node) ComputedStyle(prop string) string {
	prop = strings.ToLower(prop)
	v := e.styles()[prop]
	if prop == "background-image" {
		if u := BackgroundURL(v); u != "" {
			return `url("` + resolveAbsURL(e.doc.base, u) + `")`
		}
	}
	return v
}

// declaredSize reads width/height from the cascade, then from attributes.
func (e *node) declaredSize() (float64, float64, bool) {
	w, wok := e.dimension("width", e.doc.vp.width)
	h, hok := e.dimension("height", e.doc.vp.height)
	return w, h, wok && hok
}

func (e *node) dimension(prop string, base int) (float64, bool) {
	if px, ok := cssLengthToPx(e.ComputedStyle(prop), base); ok && px > 0 {
		return float64(px), true
	}
	if px, ok := cssLengthToPx(e.Attr(prop), base); ok && px > 0 {
		return float64(px), true
	}
	return 0, false
}

func (e *node) hidden() bool {
	for n := e.n; n != nil; n = n.Parent {
		el, ok := e.doc.byPtr[n]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(el.ComputedStyle("display")), "none") {
			return true
		}
		if hasAttr(el.n, "hidden") {
			return true
		}
	}
	return false
}

func (e *node) BoundingRect() Rect {
	if e.hidden() {
		return Rect{}
	}
	w, h, ok := e.declaredSize()
	if ok {
		return Rect{Width: w, Height: h}
	}
	if e.natural != nil {
		r := *e.natural
		// one declared side scales the other, keeping the aspect ratio
		switch {
		case w > 0 && r.Width > 0:
			r.Height = r.Height * w / r.Width
			r.Width = w
		case h > 0 && r.Height > 0:
			r.Width = r.Width * h / r.Height
			r.Height = h
		}
		return r
	}
	return Rect{Width: w, Height: h}
}

func (e *node) Markup() (string, error) {
	out, err := goquery.OuterHtml(goquery.NewDocumentFromNode(e.n).Selection)
	if err != nil {
		return "", fmt.Errorf("page: serialise %s: %w", e.Tag(), err)
	}
	if out == "" {
		return "", errEmptyMarkup
	}
	return out, nil
}

func (e *node) Connected() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	n := e.n
	for n.Parent != nil {
		n = n.Parent
	}
	return n == e.doc.root
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func findBaseURL(doc *html.Node, cur string) string {
	var base string
	var find func(*html.Node) bool
	find = func(n *html.Node) bool {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "base") {
			if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
				base = href
				return true
			}
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "body") {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if find(c) {
				return true
			}
		}
		return false
	}
	if doc == nil || !find(doc) {
		return cur
	}
	if abs := resolveAbsURL(cur, base); abs != "" {
		return abs
	}
	return cur
}
