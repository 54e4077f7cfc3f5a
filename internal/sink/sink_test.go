package sink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoversave/internal/storage"
	"hoversave/media"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 123e6, time.UTC)

func newSink(t *testing.T, f *media.Fetcher) (*FileSink, *History) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "h.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	h, err := NewHistory(db)
	require.NoError(t, err)
	s, err := NewFileSink(FileSinkConfig{
		Dir:     filepath.Join(t.TempDir(), "downloads"),
		Fetcher: f,
		History: h,
		Clock:   func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s, h
}

func TestDownloadBytesUniquifiesNames(t *testing.T) {
	s, h := newSink(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Download(ctx, Item{URL: "https://ex.com/cat.png", Data: []byte{byte(i + 1)}, Filename: "cat.png", Mode: media.ModeWebpToPNG})
		require.NoError(t, err)
	}
	for i, name := range []string{"cat.png", "cat (1).png", "cat (2).png"} {
		b, err := os.ReadFile(filepath.Join(s.Dir(), name))
		require.NoError(t, err, name)
		assert.Equal(t, []byte{byte(i + 1)}, b)
	}

	recs, err := h.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "webp-to-png", recs[0].Mode)
}

func TestUniquifiedNameStaysWithinLimit(t *testing.T) {
	s, _ := newSink(t, nil)
	ctx := context.Background()
	long := strings.Repeat("ж", media.MaxFilenameRunes-4) + ".png"

	for i := 0; i < 2; i++ {
		_, err := s.Download(ctx, Item{Data: []byte{1}, MIME: "image/png", Filename: long})
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		name := e.Name()
		assert.LessOrEqual(t, utf8.RuneCountInString(name), media.MaxFilenameRunes, name)
		assert.True(t, strings.HasSuffix(name, ".png"), name)
	}
	assert.FileExists(t, filepath.Join(s.Dir(), strings.Repeat("ж", media.MaxFilenameRunes-8)+" (1).png"))
}

func TestDownloadFetchesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("not really a video"))
	}))
	defer srv.Close()

	s, h := newSink(t, media.NewFetcher(media.FetcherConfig{}))
	handle, err := s.Download(context.Background(), Item{URL: srv.URL + "/clips/"})
	require.NoError(t, err)

	want := "video-2024-03-05T14-07-09-123Z.mp4"
	b, err := os.ReadFile(filepath.Join(s.Dir(), want))
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(b))

	rec, err := h.Get(context.Background(), string(handle))
	require.NoError(t, err)
	assert.Equal(t, want, rec.Filename)
	assert.Equal(t, int64(len(b)), rec.Bytes)
}

func TestDownloadDataURI(t *testing.T) {
	s, h := newSink(t, nil)
	uri := media.DataURI("image/svg+xml", []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`))
	handle, err := s.Download(context.Background(), Item{URL: uri})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), "svg-2024-03-05T14-07-09-123Z.svg"))
	require.NoError(t, err)

	rec, err := h.Get(context.Background(), string(handle))
	require.NoError(t, err)
	assert.Equal(t, "data:image/svg+xml;base64,…", rec.URL)
}

func TestDownloadSanitisesFilename(t *testing.T) {
	s, _ := newSink(t, nil)
	_, err := s.Download(context.Background(), Item{Data: []byte("x"), Filename: "../../etc/passwd"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), ".._.._etc_passwd"))
	assert.NoError(t, err)
}

func TestDownloadErrors(t *testing.T) {
	s, _ := newSink(t, nil)
	_, err := s.Download(context.Background(), Item{})
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = s.Download(context.Background(), Item{Data: []byte{}, Filename: "a.png"})
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = s.Download(context.Background(), Item{URL: "https://ex.com/a.png"})
	assert.Error(t, err, "no fetcher configured")

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed downloads leave nothing behind")
}
