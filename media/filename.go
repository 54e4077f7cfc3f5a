package media

import (
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
)

// MaxFilenameRunes bounds generated file names.
const MaxFilenameRunes = 100

// maxExtRunes is the longest suffix (dot included) still treated as an extension when truncating.
const maxExtRunes = 10

var knownMediaExts = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".avif", ".jxl", ".ico", ".tif", ".tiff",
	".mp4", ".webm", ".mov", ".m4v", ".ogv", ".mkv", ".avi",
}

// SanitizeFilename replaces characters that are illegal in file names with '_'
// (one for one) and bounds the result to MaxFilenameRunes, keeping the
// extension when it is short enough to recover.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return truncateRunes(b.String(), MaxFilenameRunes)
}

func truncateRunes(name string, max int) string {
	rs := []rune(name)
	if len(rs) <= max {
		return name
	}
	dot := -1
	for i := len(rs) - 1; i > 0; i-- {
		if rs[i] == '.' {
			dot = i
			break
		}
	}
	if dot > 0 && len(rs)-dot <= maxExtRunes {
		ext := rs[dot:]
		return string(rs[:max-len(ext)]) + string(ext)
	}
	return string(rs[:max])
}

// StripFragment drops a trailing #fragment.
func StripFragment(raw string) string {
	if strings.HasPrefix(raw, "data:") {
		return raw
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Timestamp renders t the way synthesised names embed it: ISO 8601 with ':' and '.' replaced.
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// SynthesizedName is used when the URL carries no usable path segment.
func SynthesizedName(kind Kind, now time.Time) string {
	return kind.String() + "-" + Timestamp(now) + kind.DefaultExtension()
}

// FilenameFor derives the target file name for a candidate source URL.
func FilenameFor(rawURL string, kind Kind, now time.Time) string {
	raw := StripFragment(strings.TrimSpace(rawURL))
	if strings.HasPrefix(raw, "data:") {
		name := kind.String() + "-" + Timestamp(now)
		if ext := extensionForMIME(dataURIMediaType(raw)); ext != "" {
			return SanitizeFilename(name + ext)
		}
		return SanitizeFilename(name + kind.DefaultExtension())
	}
	seg := lastPathSegment(raw)
	if seg == "" {
		return SanitizeFilename(SynthesizedName(kind, now))
	}
	if !strings.Contains(seg, ".") {
		seg += kind.DefaultExtension()
	}
	return SanitizeFilename(seg)
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	seg := path.Base(p)
	if seg == "." || seg == "/" {
		return ""
	}
	if dec, err := url.PathUnescape(seg); err == nil {
		seg = dec
	}
	return strings.TrimSpace(seg)
}

// ReplaceExtension swaps (or appends) the extension of name. ext includes the dot.
func ReplaceExtension(name, ext string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return SanitizeFilename(name + ext)
}

// MediaExtension returns the first known media extension found in the URL
// path, or "".
func MediaExtension(rawURL string) string {
	u, err := url.Parse(StripFragment(rawURL))
	if err != nil {
		return ""
	}
	low := strings.ToLower(u.Path)
	ext := path.Ext(low)
	for _, k := range knownMediaExts {
		if ext == k {
			return k
		}
	}
	for _, k := range knownMediaExts {
		if strings.Contains(low, k) {
			return k
		}
	}
	return ""
}

// DirectTarget is what a direct (context menu style) download was invoked on.
type DirectTarget int

const (
	DirectLink DirectTarget = iota
	DirectImage
	DirectVideo
)

// ParseDirectTarget accepts "link", "image" or "video".
func ParseDirectTarget(s string) DirectTarget {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "img":
		return DirectImage
	case "video":
		return DirectVideo
	default:
		return DirectLink
	}
}

// DirectFilename names a direct download. Missing media extensions are marked
// with a ".maybe" infix so the user can tell the type was guessed.
func DirectFilename(rawURL string, target DirectTarget, now time.Time) string {
	seg := lastPathSegment(StripFragment(rawURL))
	var prefix, fallbackExt string
	switch target {
	case DirectImage:
		prefix, fallbackExt = "image", ".maybe.jpg"
	case DirectVideo:
		prefix, fallbackExt = "video", ".maybe.mp4"
	default:
		prefix, fallbackExt = "download", ""
	}
	if seg == "" {
		seg = prefix + "-" + Timestamp(now)
		if target == DirectLink {
			seg += "-file"
		}
	}
	if target != DirectLink && MediaExtension(seg) == "" {
		seg += fallbackExt
	}
	return SanitizeFilename(seg)
}

func dataURIMediaType(uri string) string {
	comma := strings.IndexByte(uri, ',')
	if !strings.HasPrefix(uri, "data:") || comma == -1 {
		return ""
	}
	meta := uri[len("data:"):comma]
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		meta = meta[:i]
	}
	return strings.ToLower(strings.TrimSpace(meta))
}

func extensionForMIME(mt string) string {
	switch mt {
	case "":
		return ""
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
