package browser

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoversave/internal/bus"
	"hoversave/internal/hover"
	"hoversave/internal/page"
	"hoversave/internal/settings"
	"hoversave/media"
)

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

type holdScheduler struct {
	mu    sync.Mutex
	count int
}

func (s *holdScheduler) AfterFunc(time.Duration, func()) hover.Timer {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nopTimer{}
}

func offlinePage(t *testing.T) *Page {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := newPage(ctx, cancel, media.NewCache(media.CacheConfig{MemoryBytes: 1 << 20}), zerolog.Nop())
	p.setURL("https://ex.com/gallery")
	t.Cleanup(p.Close)
	return p
}

func TestCallRendersArguments(t *testing.T) {
	assert.Equal(t, `window.__hoversave.elements()`, call("elements"))
	assert.Equal(t, `window.__hoversave.highlight("e1", "2px solid #888888")`, call("highlight", "e1", "2px solid #888888"))
	assert.Equal(t, `window.__hoversave.affordance.move(10.5, 20)`, call("affordance.move", 10.5, 20.0))
	assert.Equal(t, `window.__hoversave.handle("{\"type\":\"x\"}")`, call("handle", `{"type":"x"}`))
}

func TestBindingEventsDriveController(t *testing.T) {
	p := offlinePage(t)
	sched := &holdScheduler{}
	ctrl := hover.New(hover.Config{
		Surface:     p,
		Settings:    settings.Fixed(settings.Defaults()),
		DocumentURL: p.URL,
		Scheduler:   sched,
	})
	p.Drive(ctrl)

	p.onEvent(&runtime.EventBindingCalled{
		Name:    bindingName,
		Payload: `{"type":"enter","element":{"id":"e7","tag":"IMG","src":"https://ex.com/a.jpg","rect":{"x":0,"y":0,"width":300,"height":200}}}`,
	})
	require.Eventually(t, func() bool {
		st, _ := ctrl.State()
		return st == hover.Armed
	}, time.Second, 5*time.Millisecond)
	_, armed := ctrl.State()
	assert.Equal(t, "e7", armed.ID())

	// bindings registered by other scripts are ignored
	p.onEvent(&runtime.EventBindingCalled{Name: "other", Payload: `{"type":"navigate"}`})
	p.onEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: `{"type":"leave","element":{"id":"e7","tag":"img"}}`})
	require.Eventually(t, func() bool {
		st, _ := ctrl.State()
		return st == hover.Idle
	}, time.Second, 5*time.Millisecond)
}

func TestNetworkCaptureBookkeeping(t *testing.T) {
	p := offlinePage(t)
	p.onEvent(&network.EventResponseReceived{
		RequestID: "1",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://ex.com/a.png", Status: 200, MimeType: "image/png"},
	})
	p.onEvent(&network.EventResponseReceived{
		RequestID: "2",
		Type:      network.ResourceTypeScript,
		Response:  &network.Response{URL: "https://ex.com/app.js", Status: 200},
	})
	p.onEvent(&network.EventResponseReceived{
		RequestID: "3",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://ex.com/b.png", Status: 404},
	})
	p.netMu.Lock()
	assert.Len(t, p.pending, 1)
	p.netMu.Unlock()

	p.onEvent(&network.EventLoadingFailed{RequestID: "1"})
	p.netMu.Lock()
	assert.Empty(t, p.pending)
	p.netMu.Unlock()
}

func TestSendOnClosedTab(t *testing.T) {
	p := offlinePage(t)
	p.Close()
	err := bus.Call(context.Background(), p, bus.TypeRasterize, bus.RasterizeRequest{URL: "https://ex.com/a.png"}, nil)
	assert.True(t, errors.Is(err, bus.ErrNoListener), "got %v", err)
}

// TestLiveTab needs a local Chromium; set HOVERSAVE_CHROME_TEST=1 to run it.
func TestLiveTab(t *testing.T) {
	if os.Getenv("HOVERSAVE_CHROME_TEST") == "" {
		t.Skip("HOVERSAVE_CHROME_TEST not set")
	}
	png, err := media.EncodePNG(image.NewNRGBA(image.Rect(0, 0, 320, 240)))
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><img src="/a.png" width="320" height="240"><img src="/a.png" width="10" height="10"></body></html>`))
	})
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := media.NewCache(media.CacheConfig{MemoryBytes: 1 << 20})
	b, err := New(Config{Headless: true, Cache: cache, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, err := b.Open(ctx, srv.URL+"/")
	require.NoError(t, err)
	defer p.Close()

	found, err := page.Scan(ctx, p, settings.Defaults())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, srv.URL+"/a.png", found[0].SourceURL)

	reply, err := p.Rasterize(ctx, bus.RasterizeRequest{URL: srv.URL + "/a.png", Format: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, 320, reply.Width)

	require.Eventually(t, func() bool {
		_, _, ok := cache.Get(srv.URL + "/a.png")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}
