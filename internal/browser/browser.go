// Package browser drives a Chromium tab through the DevTools protocol. A Page
// is the live page context: it injects the agent script, streams pointer
// events, draws the save affordance and rasterizes images in a real canvas.
package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"hoversave/media"
)

//go:embed agent.js
var agentScript string

const (
	bindingName = "hoversaveEmit"

	defaultNavigateTimeout = 45 * time.Second
	defaultWidth           = 1280
	defaultHeight          = 800
)

type Config struct {
	// Headless runs Chromium without a window. Interactive sessions need false.
	Headless    bool
	ExecPath    string
	UserDataDir string
	Width       int
	Height      int
	// Cache receives image and media bodies seen on the network.
	Cache           *media.Cache
	NavigateTimeout time.Duration
	Logger          zerolog.Logger
}

// Browser owns one Chromium process. Tabs are opened with Open.
type Browser struct {
	cfg       Config
	log       zerolog.Logger
	allocator context.Context
	cancel    context.CancelFunc
}

func New(cfg Config) (*Browser, error) {
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = defaultNavigateTimeout
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("hide-scrollbars", cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if p := strings.TrimSpace(cfg.ExecPath); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}
	if d := strings.TrimSpace(cfg.UserDataDir); d != "" {
		opts = append(opts, chromedp.UserDataDir(d))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "browser").Logger(),
		allocator: allocCtx,
		cancel:    cancel,
	}, nil
}

func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Open starts a tab, installs the agent and navigates to target. The tab
// lives until Page.Close or Browser.Close; ctx bounds only the navigation.
func (b *Browser) Open(ctx context.Context, target string) (*Page, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("browser: empty target url")
	}
	tabCtx, cancelTab := chromedp.NewContext(b.allocator)
	p := newPage(tabCtx, cancelTab, b.cfg.Cache, b.log.With().Str("target", target).Logger())
	chromedp.ListenTarget(tabCtx, p.onEvent)
	// allocate the tab on tabCtx itself so a navigation timeout does not close it
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("browser: start tab: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, b.cfg.NavigateTimeout)
	defer cancelNav()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancelNav)
		defer stop()
	}

	var final string
	err := chromedp.Run(navCtx,
		network.Enable(),
		runtime.Enable(),
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(agentScript).Do(ctx)
			return err
		}),
		emulation.SetDeviceMetricsOverride(int64(b.cfg.Width), int64(b.cfg.Height), 1, false),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&final),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: open %s: %w", target, err)
	}
	if final == "" {
		final = target
	}
	p.setURL(final)
	b.log.Info().Str("url", final).Msg("tab ready")
	return p, nil
}
