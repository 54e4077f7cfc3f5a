package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoversave/internal/bus"
	"hoversave/internal/config"
	"hoversave/internal/pagectx"
	"hoversave/internal/settings"
	"hoversave/media"
)

func newApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.Sqlite.DSN = filepath.Join(dir, "hoversave.sqlite3")
	cfg.Downloads.Dir = filepath.Join(dir, "downloads")
	cfg.Cache.DiskDir = ""
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestDownloadOverBackgroundBus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a"))
	}))
	defer origin.Close()

	a := newApp(t)
	req := media.DownloadRequest{SourceURL: origin.URL + "/x.gif", TargetFilename: "x.gif"}
	var reply bus.DownloadReply
	require.NoError(t, bus.Call(context.Background(), a.Background, bus.TypeDownload, req, &reply))
	assert.Empty(t, reply.Error)
	assert.NotEmpty(t, reply.Handle)

	b, err := os.ReadFile(filepath.Join(a.Config.Downloads.Dir, "x.gif"))
	require.NoError(t, err)
	assert.Equal(t, "GIF89a", string(b))
}

// staticWebP is a 1x1 lossless WebP.
const staticWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func TestWebpToPNGWithoutBrowser(t *testing.T) {
	body, err := base64.StdEncoding.DecodeString(staticWebP)
	require.NoError(t, err)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write(body)
	}))
	defer origin.Close()

	a := newApp(t)
	res := a.Coordinator.Execute(context.Background(), media.DownloadRequest{
		SourceURL:      origin.URL + "/p.webp",
		TargetFilename: "p.webp",
		Mode:           media.ModeWebpToPNG,
	})
	require.NoError(t, res.Err)
	require.Nil(t, res.Fallback)
	assert.Equal(t, media.ModeWebpToPNG, res.Mode)
	assert.Equal(t, "p.png", res.Filename)

	out, err := os.ReadFile(filepath.Join(a.Config.Downloads.Dir, "p.png"))
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Width)
	assert.Equal(t, 1, cfg.Height)
}

func TestCanvasModeUndecodableFallsBack(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("GIF89a"))
	}))
	defer origin.Close()

	a := newApp(t)
	res := a.Coordinator.Execute(context.Background(), media.DownloadRequest{
		SourceURL:      origin.URL + "/y.gif",
		TargetFilename: "y.gif",
		Mode:           media.ModeCanvasExtraction,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, media.ModeNormal, res.Mode)
	require.NotNil(t, res.Fallback)
	assert.Equal(t, media.FailureDecodeError, res.Fallback.Kind)
}

func TestAttachedPageTakesRasterWork(t *testing.T) {
	a := newApp(t)
	calls := 0
	agent := pagectx.New(pagectx.Config{
		Rasterizer: rasterFunc(func(req bus.RasterizeRequest) (bus.RasterizeReply, error) {
			calls++
			return bus.RasterizeReply{DataURI: media.DataURI("image/png", []byte("png")), Width: 1, Height: 1}, nil
		}),
		Settings: a.Settings.Snapshot(),
		Logger:   zerolog.Nop(),
	})
	defer agent.Close()
	a.AttachPage(agent.Channel())

	req := bus.RasterizeRequest{URL: "https://ex.com/a.png", Format: "image/png"}
	var reply bus.RasterizeReply
	require.NoError(t, bus.Call(context.Background(), &a.page, bus.TypeRasterize, req, &reply))
	assert.Equal(t, 1, calls)

	// detaching hands raster work back to the in-process rasterizer
	a.AttachPage(nil)
	err := bus.Call(context.Background(), &a.page, bus.TypeRasterize, bus.RasterizeRequest{URL: "https://ex.com/a.png", Format: "image/jpeg"}, &reply)
	var remote *bus.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Msg, "not supported")
	assert.Equal(t, 1, calls)
}

type rasterFunc func(bus.RasterizeRequest) (bus.RasterizeReply, error)

func (f rasterFunc) Rasterize(_ context.Context, req bus.RasterizeRequest) (bus.RasterizeReply, error) {
	return f(req)
}

func TestSettingsChangesReachAttachedPage(t *testing.T) {
	a := newApp(t)
	agent := pagectx.New(pagectx.Config{Settings: a.Settings.Snapshot(), Logger: zerolog.Nop()})
	defer agent.Close()
	a.AttachPage(agent.Channel())

	require.NoError(t, a.Store.Set(context.Background(), settings.KeyMinSize, 320))
	assert.Equal(t, 320, a.Settings.Snapshot().MinSize)
	require.Eventually(t, func() bool {
		return agent.Settings().MinSize == 320
	}, 2*time.Second, 10*time.Millisecond)

	// detached pages are skipped quietly
	a.AttachPage(nil)
	require.NoError(t, a.Store.Set(context.Background(), settings.KeyMinSize, 10))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 320, agent.Settings().MinSize)
}

func TestServeStopsWithContext(t *testing.T) {
	a := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
