package page

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"

	"hoversave/internal/settings"
	"hoversave/media"
)

const svgNamespace = "http://www.w3.org/2000/svg"

// Classify decides whether el is saveable media under snap. docURL is the
// URL of the element's document; an image whose source resolves to it is
// skipped. ok is false for a classification skip.
func Classify(el Element, snap settings.Snapshot, docURL string) (media.Candidate, bool) {
	if el == nil {
		return media.Candidate{}, false
	}
	r := el.BoundingRect()
	if r.Width < float64(snap.MinSize) || r.Height < float64(snap.MinSize) {
		return media.Candidate{}, false
	}

	var c media.Candidate
	switch KindOf(el) {
	case NodeImage:
		if !snap.DetectImage {
			return media.Candidate{}, false
		}
		src := firstNonEmpty(el.Prop("src"), el.Prop("currentSrc"), PickSrcset(el.Attr("srcset")))
		src = resolveAbsURL(docURL, src)
		if src == "" || src == docURL {
			return media.Candidate{}, false
		}
		c = media.Candidate{SourceURL: src, Kind: media.KindImage, AltText: el.Attr("alt")}
	case NodeVideo:
		if !snap.DetectVideo {
			return media.Candidate{}, false
		}
		src := firstNonEmpty(el.Attr("src"), el.Prop("currentSrc"))
		if src == "" {
			if s := el.Sources(); len(s) > 0 {
				src = s[0]
			}
		}
		src = resolveAbsURL(docURL, src)
		if src == "" {
			return media.Candidate{}, false
		}
		c = media.Candidate{SourceURL: src, Kind: media.KindVideo, AltText: firstNonEmpty(el.Attr("title"), el.Attr("alt"))}
	case NodeSvg:
		if !snap.DetectSvg {
			return media.Candidate{}, false
		}
		markup, err := el.Markup()
		if err != nil {
			return media.Candidate{}, false
		}
		uri, err := SvgDataURI(markup)
		if err != nil {
			return media.Candidate{}, false
		}
		c = media.Candidate{SourceURL: uri, Kind: media.KindSvg, AltText: firstNonEmpty(el.Attr("title"), el.Attr("aria-label"))}
	case NodeGeneric:
		if !snap.DetectBackground {
			return media.Candidate{}, false
		}
		src := resolveAbsURL(docURL, BackgroundURL(el.ComputedStyle("background-image")))
		if src == "" {
			return media.Candidate{}, false
		}
		c = media.Candidate{SourceURL: src, Kind: media.KindBackgroundImage, AltText: firstNonEmpty(el.Attr("title"), el.Attr("alt"))}
	default:
		return media.Candidate{}, false
	}

	if !snap.AllowsURL(c.SourceURL) {
		return media.Candidate{}, false
	}
	c.DisplayWidth = int(r.Width + 0.5)
	c.DisplayHeight = int(r.Height + 0.5)
	return c, true
}

// SvgDataURI validates markup as XML and encodes it as a base64
// image/svg+xml data URI, adding the SVG namespace when the root lacks one.
func SvgDataURI(markup string) (string, error) {
	markup = strings.TrimSpace(markup)
	if markup == "" {
		return "", errEmptyMarkup
	}
	markup = ensureSvgNamespace(markup)
	if err := wellFormed(markup); err != nil {
		return "", err
	}
	return media.DataURI("image/svg+xml", []byte(markup)), nil
}

func ensureSvgNamespace(markup string) string {
	lower := strings.ToLower(markup)
	start := strings.Index(lower, "<svg")
	if start < 0 {
		return markup
	}
	end := strings.IndexByte(lower[start:], '>')
	if end < 0 {
		return markup
	}
	if strings.Contains(lower[start:start+end], "xmlns=") {
		return markup
	}
	at := start + len("<svg")
	return markup[:at] + ` xmlns="` + svgNamespace + `"` + markup[at:]
}

func wellFormed(markup string) error {
	dec := xml.NewDecoder(strings.NewReader(markup))
	dec.Strict = true
	roots := 0
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots != 1 {
		return errors.New("page: svg markup must have exactly one root element")
	}
	return nil
}

// PickSrcset returns the srcset candidate with the largest width or density
// descriptor; candidates without one count as 1x.
func PickSrcset(srcset string) string {
	best := ""
	bestScore := -1.0
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		score := 1.0
		if len(fields) > 1 {
			d := strings.ToLower(fields[1])
			if n, err := strconv.ParseFloat(strings.TrimRight(d, "wx"), 64); err == nil {
				score = n
				if strings.HasSuffix(d, "w") {
					// widths outrank densities
					score += 1e6
				}
			}
		}
		if score > bestScore {
			best, bestScore = fields[0], score
		}
	}
	return best
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
