package settings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoversave/media"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.True(t, d.Enabled)
	assert.Equal(t, 1500*time.Millisecond, d.HoverDelay)
	assert.Equal(t, 100, d.MinSize)
	assert.True(t, d.DetectImage)
	assert.True(t, d.DetectVideo)
	assert.False(t, d.DetectSvg)
	assert.False(t, d.DetectBackground)
	assert.Equal(t, HighlightOff, d.Highlight)
	assert.Equal(t, media.ModeNormal, d.DownloadMode)
	assert.True(t, d.CodecLossless)
	assert.Equal(t, 7, d.CodecEffort)
	assert.ElementsMatch(t, []string{"jpg", "jpeg", "png", "gif", "webp", "svg", "bmp", "mp4", "webm", "mov"}, d.AllowedExtensions)
}

func TestDomainExcluded(t *testing.T) {
	s := Defaults()
	s.DomainExclusions = []string{"example.com"}

	cases := map[string]bool{
		"example.com":         true,
		"sub.example.com":     true,
		"a.b.example.com":     true,
		"EXAMPLE.com":         true,
		"notexample.com":      false,
		"example.com.evil.io": false,
		"":                    false,
	}
	for host, want := range cases {
		assert.Equal(t, want, s.DomainExcluded(host), host)
	}
	assert.True(t, s.URLExcluded("https://img.example.com/a.png"))
	assert.False(t, s.URLExcluded("https://example.org/"))
}

func TestAllowsURL(t *testing.T) {
	s := Defaults()
	assert.True(t, s.AllowsURL("https://ex.com/a/b.JPG"))
	assert.True(t, s.AllowsURL("https://ex.com/a.webp?size=large"))
	assert.True(t, s.AllowsURL("https://ex.com/a.png/thumb"), "substring match on the path")
	assert.False(t, s.AllowsURL("https://ex.com/photo?id=1"))
	assert.False(t, s.AllowsURL("https://ex.com/a.tiff"))
	assert.False(t, s.AllowsURL("https://ex.com/index.html?x=.png"), "query is not part of the path")
	assert.True(t, s.AllowsURL("data:image/svg+xml;base64,PHN2Zz4="))
	assert.True(t, s.AllowsURL("data:image/jpeg;base64,AAAA"))

	s.AllowedExtensions = []string{"mp4"}
	assert.False(t, s.AllowsURL("data:image/svg+xml;base64,PHN2Zz4="))
	s.AllowedExtensions = nil
	assert.False(t, s.AllowsURL("https://ex.com/a.mp4"))
}

func TestApplyValidates(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Apply(KeyHoverDelay, json.RawMessage(`250`)))
	assert.Equal(t, 250*time.Millisecond, s.HoverDelay)

	require.NoError(t, s.Apply(KeyHighlight, json.RawMessage(`"green"`)))
	assert.Equal(t, HighlightGreen, s.Highlight)
	assert.Equal(t, "2px solid #00ff00", s.Highlight.Outline())

	require.NoError(t, s.Apply(KeyDownloadMode, json.RawMessage(`"avif"`)))
	assert.Equal(t, media.ModeNextGen, s.DownloadMode)
	// the codec writes avif, so a jxl request is refused rather than mislabeled
	assert.Error(t, s.Apply(KeyDownloadMode, json.RawMessage(`"jxl"`)))
	assert.Equal(t, media.ModeNextGen, s.DownloadMode)

	require.NoError(t, s.Apply(KeyAllowedExtensions, json.RawMessage(`[".PNG","png"," gif "]`)))
	assert.Equal(t, []string{"png", "gif"}, s.AllowedExtensions)

	assert.Error(t, s.Apply(KeyHoverDelay, json.RawMessage(`-1`)))
	assert.Error(t, s.Apply(KeyHighlight, json.RawMessage(`"purple"`)))
	assert.Error(t, s.Apply(KeyCodecEffort, json.RawMessage(`0`)))
	assert.ErrorIs(t, s.Apply("nope", json.RawMessage(`1`)), ErrUnknownKey)
	assert.ErrorIs(t, s.Apply(KeyDomainExclusions, json.RawMessage(`["bad domain!"]`)), ErrInvalidDomain)
}

func TestNormalizeDomains(t *testing.T) {
	got, err := NormalizeDomains([]string{"B.example.com", "a.example.com.", "b.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, got)

	_, err = NormalizeDomains([]string{"-leading.com"})
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestResolveMode(t *testing.T) {
	s := Defaults()
	s.DownloadMode = media.ModeCacheAssisted
	assert.Equal(t, media.ModeCacheAssisted, s.ResolveMode("https://ex.com/a.webp"))

	s.ConvertWebpToPNG = true
	assert.Equal(t, media.ModeWebpToPNG, s.ResolveMode("https://ex.com/a.webp"))
	assert.Equal(t, media.ModeCacheAssisted, s.ResolveMode("https://ex.com/a.jpg"))
}

func TestMapRoundTripsThroughApply(t *testing.T) {
	src := Defaults()
	src.MinSize = 42
	src.DomainExclusions = []string{"ex.com"}
	dst := Defaults()
	for k, v := range src.Map() {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, dst.Apply(k, raw), k)
	}
	assert.Equal(t, src, dst)
}

func TestApplyMap(t *testing.T) {
	base := Defaults()
	next, err := ApplyMap(base, map[string]json.RawMessage{
		KeyMinSize:      json.RawMessage(`250`),
		KeyDownloadMode: json.RawMessage(`"next_gen"`),
	})
	require.NoError(t, err)
	assert.Equal(t, 250, next.MinSize)
	assert.Equal(t, media.ModeNextGen, next.DownloadMode)
	assert.Equal(t, 100, base.MinSize)

	got, err := ApplyMap(base, map[string]json.RawMessage{
		KeyMinSize: json.RawMessage(`300`),
		"bogus":    json.RawMessage(`1`),
	})
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, base, got)
}
