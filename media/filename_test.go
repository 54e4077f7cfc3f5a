package media

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 123000000, time.UTC)

func TestSanitizeFilenameReplacesReserved(t *testing.T) {
	got := SanitizeFilename("a<b>c:d\"e/f\\g|h?i*j\x01k.png")
	want := "a_b_c_d_e_f_g_h_i_j_k.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeFilenameKeepsNonLatin(t *testing.T) {
	in := "猫の写真 – été.jpg"
	if got := SanitizeFilename(in); got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}

func TestSanitizeFilenameTruncatesKeepingExtension(t *testing.T) {
	name := strings.Repeat("a", 200) + ".webp"
	got := SanitizeFilename(name)
	if n := utf8.RuneCountInString(got); n != MaxFilenameRunes {
		t.Fatalf("length %d, want %d", n, MaxFilenameRunes)
	}
	if !strings.HasSuffix(got, ".webp") {
		t.Fatalf("extension lost: %q", got)
	}
}

func TestSanitizeFilenameTruncatesLongSuffix(t *testing.T) {
	name := strings.Repeat("b", 150) + ".notanextensionatall"
	got := SanitizeFilename(name)
	if utf8.RuneCountInString(got) != MaxFilenameRunes {
		t.Fatalf("unexpected length %d", utf8.RuneCountInString(got))
	}
	if strings.Contains(got, ".") {
		t.Fatalf("long suffix should not be preserved: %q", got)
	}
}

func TestSanitizeFilenameCountsRunes(t *testing.T) {
	name := strings.Repeat("写", 120) + ".png"
	got := SanitizeFilename(name)
	if utf8.RuneCountInString(got) != MaxFilenameRunes || !strings.HasSuffix(got, ".png") {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestFilenameFor(t *testing.T) {
	cases := []struct {
		name string
		url  string
		kind Kind
		want string
	}{
		{"plain", "https://ex.com/a/photo.jpg", KindImage, "photo.jpg"},
		{"query ignored", "https://ex.com/a/photo.png?w=200", KindImage, "photo.png"},
		{"fragment stripped", "https://ex.com/clip.webm#t=10", KindVideo, "clip.webm"},
		{"escaped", "https://ex.com/%E7%8C%AB.gif", KindImage, "猫.gif"},
		{"no extension", "https://ex.com/media/12345", KindVideo, "12345.mp4"},
		{"no segment", "https://ex.com/", KindImage, "image-2024-03-05T14-07-09-123Z.jpg"},
		{"no path", "https://ex.com", KindVideo, "video-2024-03-05T14-07-09-123Z.mp4"},
		{"svg data", "data:image/svg+xml;base64,PHN2Zz4=", KindSvg, "svg-2024-03-05T14-07-09-123Z.svg"},
		{"png data", "data:image/png;base64,AAAA", KindImage, "image-2024-03-05T14-07-09-123Z.png"},
		{"background", "https://ex.com/css/", KindBackgroundImage, "background-2024-03-05T14-07-09-123Z.jpg"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := FilenameFor(tc.url, tc.kind, fixedNow); got != tc.want {
				t.Fatalf("FilenameFor(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestReplaceExtension(t *testing.T) {
	if got := ReplaceExtension("photo.webp", ".png"); got != "photo.png" {
		t.Fatalf("got %q", got)
	}
	if got := ReplaceExtension("photo", ".avif"); got != "photo.avif" {
		t.Fatalf("got %q", got)
	}
	if got := ReplaceExtension("archive.tar.jpg", ".avif"); got != "archive.tar.avif" {
		t.Fatalf("got %q", got)
	}
}

func TestDirectFilename(t *testing.T) {
	cases := []struct {
		url    string
		target DirectTarget
		want   string
	}{
		{"https://ex.com/pic.png", DirectImage, "pic.png"},
		{"https://ex.com/pic", DirectImage, "pic.maybe.jpg"},
		{"https://ex.com/stream", DirectVideo, "stream.maybe.mp4"},
		{"https://ex.com/movie.mov#x", DirectVideo, "movie.mov"},
		{"https://ex.com/", DirectLink, "download-2024-03-05T14-07-09-123Z-file"},
		{"https://ex.com/", DirectImage, "image-2024-03-05T14-07-09-123Z.maybe.jpg"},
		{"https://ex.com/report.pdf", DirectLink, "report.pdf"},
	}
	for _, tc := range cases {
		if got := DirectFilename(tc.url, tc.target, fixedNow); got != tc.want {
			t.Fatalf("DirectFilename(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestMediaExtension(t *testing.T) {
	if got := MediaExtension("https://cdn.ex.com/i/abc.JPEG?x=1"); got != ".jpeg" {
		t.Fatalf("got %q", got)
	}
	if got := MediaExtension("https://cdn.ex.com/i/abc.webp/variant"); got != ".webp" {
		t.Fatalf("got %q", got)
	}
	if got := MediaExtension("https://ex.com/page"); got != "" {
		t.Fatalf("got %q", got)
	}
}
