// Package settings holds user configuration: the immutable Snapshot read on
// hot paths, the persistent Store, and the Cache that keeps a Snapshot current.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"hoversave/media"
)

// Setting keys as stored in the settings table.
const (
	KeyEnabled           = "enabled"
	KeyHoverDelay        = "hover_delay_ms"
	KeyMinSize           = "min_size"
	KeyDetectImage       = "detect_image"
	KeyDetectVideo       = "detect_video"
	KeyDetectSvg         = "detect_svg"
	KeyDetectBackground  = "detect_background"
	KeyConvertWebp       = "convert_webp_to_png"
	KeyHighlight         = "highlight"
	KeyDownloadMode      = "download_mode"
	KeyAllowedExtensions = "allowed_extensions"
	KeyDomainExclusions  = "domain_exclusions"
	KeyCodecLossless     = "codec_lossless"
	KeyCodecEffort       = "codec_effort"
)

// Keys lists every known key in a stable order.
var Keys = []string{
	KeyEnabled, KeyHoverDelay, KeyMinSize,
	KeyDetectImage, KeyDetectVideo, KeyDetectSvg, KeyDetectBackground,
	KeyConvertWebp, KeyHighlight, KeyDownloadMode,
	KeyAllowedExtensions, KeyDomainExclusions,
	KeyCodecLossless, KeyCodecEffort,
}

var (
	ErrUnknownKey    = errors.New("settings: unknown key")
	ErrInvalidDomain = errors.New("settings: invalid domain")
)

// HighlightMode selects the outline drawn around an element while the save
// affordance is shown.
type HighlightMode string

const (
	HighlightOff   HighlightMode = "off"
	HighlightGray  HighlightMode = "gray"
	HighlightGreen HighlightMode = "green"
)

// HighlightWidth is the outline width for every colour.
const HighlightWidth = "2px"

// Color returns the CSS colour, or "" for off.
func (m HighlightMode) Color() string {
	switch m {
	case HighlightGray:
		return "#888888"
	case HighlightGreen:
		return "#00ff00"
	}
	return ""
}

// Outline is the CSS outline declaration value, or "" for off.
func (m HighlightMode) Outline() string {
	if c := m.Color(); c != "" {
		return HighlightWidth + " solid " + c
	}
	return ""
}

func parseHighlight(s string) (HighlightMode, error) {
	switch HighlightMode(strings.ToLower(strings.TrimSpace(s))) {
	case HighlightOff, "":
		return HighlightOff, nil
	case HighlightGray, "grey":
		return HighlightGray, nil
	case HighlightGreen:
		return HighlightGreen, nil
	}
	return HighlightOff, fmt.Errorf("settings: unknown highlight mode %q", s)
}

// Snapshot is a point-in-time copy of every setting.
type Snapshot struct {
	Enabled           bool
	HoverDelay        time.Duration
	MinSize           int
	DetectImage       bool
	DetectVideo       bool
	DetectSvg         bool
	DetectBackground  bool
	ConvertWebpToPNG  bool
	Highlight         HighlightMode
	DownloadMode      media.Mode
	AllowedExtensions []string
	DomainExclusions  []string
	CodecLossless     bool
	CodecEffort       int
}

// Defaults returns the factory configuration.
func Defaults() Snapshot {
	return Snapshot{
		Enabled:           true,
		HoverDelay:        1500 * time.Millisecond,
		MinSize:           100,
		DetectImage:       true,
		DetectVideo:       true,
		DetectSvg:         false,
		DetectBackground:  false,
		ConvertWebpToPNG:  false,
		Highlight:         HighlightOff,
		DownloadMode:      media.ModeNormal,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "gif", "webp", "svg", "bmp", "mp4", "webm", "mov"},
		DomainExclusions:  nil,
		CodecLossless:     true,
		CodecEffort:       7,
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	s.AllowedExtensions = append([]string(nil), s.AllowedExtensions...)
	s.DomainExclusions = append([]string(nil), s.DomainExclusions...)
	return s
}

// Get returns the JSON-friendly value of key.
func (s Snapshot) Get(key string) (any, error) {
	switch key {
	case KeyEnabled:
		return s.Enabled, nil
	case KeyHoverDelay:
		return s.HoverDelay.Milliseconds(), nil
	case KeyMinSize:
		return s.MinSize, nil
	case KeyDetectImage:
		return s.DetectImage, nil
	case KeyDetectVideo:
		return s.DetectVideo, nil
	case KeyDetectSvg:
		return s.DetectSvg, nil
	case KeyDetectBackground:
		return s.DetectBackground, nil
	case KeyConvertWebp:
		return s.ConvertWebpToPNG, nil
	case KeyHighlight:
		return string(s.Highlight), nil
	case KeyDownloadMode:
		return s.DownloadMode.String(), nil
	case KeyAllowedExtensions:
		return append([]string{}, s.AllowedExtensions...), nil
	case KeyDomainExclusions:
		return append([]string{}, s.DomainExclusions...), nil
	case KeyCodecLossless:
		return s.CodecLossless, nil
	case KeyCodecEffort:
		return s.CodecEffort, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Map returns every setting keyed by name.
func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(Keys))
	for _, k := range Keys {
		v, _ := s.Get(k)
		out[k] = v
	}
	return out
}

// Apply decodes raw JSON into the field named by key.
func (s *Snapshot) Apply(key string, raw json.RawMessage) error {
	var err error
	switch key {
	case KeyEnabled:
		err = json.Unmarshal(raw, &s.Enabled)
	case KeyHoverDelay:
		var ms int64
		if err = json.Unmarshal(raw, &ms); err == nil {
			if ms < 0 {
				return fmt.Errorf("settings: %s must not be negative", key)
			}
			s.HoverDelay = time.Duration(ms) * time.Millisecond
		}
	case KeyMinSize:
		var n int
		if err = json.Unmarshal(raw, &n); err == nil {
			if n < 0 {
				return fmt.Errorf("settings: %s must not be negative", key)
			}
			s.MinSize = n
		}
	case KeyDetectImage:
		err = json.Unmarshal(raw, &s.DetectImage)
	case KeyDetectVideo:
		err = json.Unmarshal(raw, &s.DetectVideo)
	case KeyDetectSvg:
		err = json.Unmarshal(raw, &s.DetectSvg)
	case KeyDetectBackground:
		err = json.Unmarshal(raw, &s.DetectBackground)
	case KeyConvertWebp:
		err = json.Unmarshal(raw, &s.ConvertWebpToPNG)
	case KeyHighlight:
		var v string
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Highlight, err = parseHighlight(v)
		}
	case KeyDownloadMode:
		var v string
		if err = json.Unmarshal(raw, &v); err == nil {
			var m media.Mode
			if m, err = media.ParseMode(v); err == nil {
				s.DownloadMode = m
			}
		}
	case KeyAllowedExtensions:
		var v []string
		if err = json.Unmarshal(raw, &v); err == nil {
			s.AllowedExtensions = normalizeExtensions(v)
		}
	case KeyDomainExclusions:
		var v []string
		if err = json.Unmarshal(raw, &v); err == nil {
			s.DomainExclusions, err = NormalizeDomains(v)
		}
	case KeyCodecLossless:
		err = json.Unmarshal(raw, &s.CodecLossless)
	case KeyCodecEffort:
		var n int
		if err = json.Unmarshal(raw, &n); err == nil {
			if n < 1 || n > 10 {
				return fmt.Errorf("settings: %s must be within 1..10", key)
			}
			s.CodecEffort = n
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err != nil {
		return fmt.Errorf("settings: %s: %w", key, err)
	}
	return nil
}

// ApplyMap returns base with every entry of m applied, in key order. On error
// base is returned unchanged.
func ApplyMap(base Snapshot, m map[string]json.RawMessage) (Snapshot, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	next := base.Clone()
	for _, k := range keys {
		if err := next.Apply(k, m[k]); err != nil {
			return base, err
		}
	}
	return next, nil
}

func normalizeExtensions(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// NormalizeDomain lower-cases d and validates it as a host name.
func NormalizeDomain(d string) (string, error) {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimSuffix(d, ".")
	if d == "" || !domainPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, d)
	}
	return d, nil
}

// NormalizeDomains validates, lower-cases, de-duplicates and sorts.
func NormalizeDomains(in []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, d := range in {
		n, err := NormalizeDomain(d)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DomainExcluded reports whether host equals an exclusion or is a subdomain of one.
func (s Snapshot) DomainExcluded(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return false
	}
	for _, d := range s.DomainExclusions {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// URLExcluded applies DomainExcluded to the host of a page URL.
func (s Snapshot) URLExcluded(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return s.DomainExcluded(u.Hostname())
}

// AllowsURL applies the extension allow-list. Network URLs match when the
// path contains "."+ext (case-insensitive); data: URIs match on the media
// subtype.
func (s Snapshot) AllowsURL(raw string) bool {
	if len(s.AllowedExtensions) == 0 {
		return false
	}
	if strings.HasPrefix(raw, "data:") {
		sub := dataSubtype(raw)
		for _, ext := range s.AllowedExtensions {
			if sub == ext || (ext == "jpg" && sub == "jpeg") {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range s.AllowedExtensions {
		if strings.Contains(p, "."+ext) {
			return true
		}
	}
	return false
}

func dataSubtype(raw string) string {
	meta := strings.TrimPrefix(raw, "data:")
	if i := strings.IndexAny(meta, ";,"); i >= 0 {
		meta = meta[:i]
	}
	meta = strings.ToLower(meta)
	if i := strings.IndexByte(meta, '/'); i >= 0 {
		meta = meta[i+1:]
	}
	if i := strings.IndexByte(meta, '+'); i >= 0 {
		meta = meta[:i]
	}
	return meta
}

// ResolveMode picks the mode for a save of rawURL: the WebP→PNG toggle wins
// for WebP-like sources, otherwise the configured download mode applies.
func (s Snapshot) ResolveMode(rawURL string) media.Mode {
	if s.ConvertWebpToPNG && media.IsWebPLike(rawURL) {
		return media.ModeWebpToPNG
	}
	return s.DownloadMode
}
