package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"hoversave/internal/bus"
	"hoversave/internal/hover"
	"hoversave/internal/page"
	"hoversave/media"
)

const (
	evalTimeout = 5 * time.Second
	eventQueue  = 256
)

// Event is one notification from the agent script.
type Event struct {
	Type    string                `json:"type"`
	Element *page.ElementSnapshot `json:"element,omitempty"`
}

type pendingBody struct {
	url  string
	mime string
}

// Page is one live tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	cache  *media.Cache

	mu      sync.RWMutex
	url     string
	ctrl    *hover.Controller
	onClick func()

	events chan Event
	done   chan struct{}
	once   sync.Once

	netMu   sync.Mutex
	pending map[network.RequestID]pendingBody
}

func newPage(ctx context.Context, cancel context.CancelFunc, cache *media.Cache, log zerolog.Logger) *Page {
	p := &Page{
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		cache:   cache,
		events:  make(chan Event, eventQueue),
		done:    make(chan struct{}),
		pending: map[network.RequestID]pendingBody{},
	}
	go p.loop()
	return p
}

// URL implements page.Source.
func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *Page) setURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// Done is closed when the tab goes away.
func (p *Page) Done() <-chan struct{} { return p.ctx.Done() }

func (p *Page) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.done)
	})
}

// Drive feeds agent events into c from now on.
func (p *Page) Drive(c *hover.Controller) {
	p.mu.Lock()
	p.ctrl = c
	p.mu.Unlock()
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		var msg Event
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			p.log.Debug().Err(err).Msg("bad agent event")
			return
		}
		p.enqueue(msg)
	case *cdppage.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			p.setURL(e.Frame.URL)
			p.enqueue(Event{Type: "navigate"})
		}
	case *network.EventResponseReceived:
		if p.cache == nil || e.Response == nil || e.Response.Status != 200 {
			return
		}
		if e.Type != network.ResourceTypeImage && e.Type != network.ResourceTypeMedia {
			return
		}
		if strings.HasPrefix(e.Response.URL, "data:") {
			return
		}
		p.netMu.Lock()
		p.pending[e.RequestID] = pendingBody{url: e.Response.URL, mime: e.Response.MimeType}
		p.netMu.Unlock()
	case *network.EventLoadingFinished:
		p.netMu.Lock()
		pb, ok := p.pending[e.RequestID]
		delete(p.pending, e.RequestID)
		p.netMu.Unlock()
		if ok {
			// listeners must not block the event loop
			go p.capture(e.RequestID, pb)
		}
	case *network.EventLoadingFailed:
		p.netMu.Lock()
		delete(p.pending, e.RequestID)
		p.netMu.Unlock()
	}
}

func (p *Page) capture(id network.RequestID, pb pendingBody) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, evalTimeout)
	defer cancel()
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, c.Target))
	if err != nil {
		p.log.Debug().Err(err).Str("url", pb.url).Msg("response body unavailable")
		return
	}
	p.cache.Put(pb.url, body, media.SniffMIME(body, pb.mime))
}

func (p *Page) enqueue(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Str("type", ev.Type).Msg("event queue full, dropping")
	}
}

// loop serialises agent events so the controller sees them in order.
func (p *Page) loop() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.dispatch(ev)
		}
	}
}

func (p *Page) dispatch(ev Event) {
	p.mu.RLock()
	ctrl, onClick := p.ctrl, p.onClick
	p.mu.RUnlock()
	if ctrl == nil {
		return
	}
	switch ev.Type {
	case "enter":
		if ev.Element != nil {
			ctrl.MouseEnter(p.live(ev.Element))
		}
	case "leave":
		if ev.Element != nil {
			ctrl.MouseLeave(p.live(ev.Element))
		}
	case "affordance_leave":
		ctrl.AffordanceLeave()
	case "reposition":
		ctrl.Reposition()
	case "click":
		if onClick != nil {
			onClick()
		}
	case "navigate":
		ctrl.Reset()
	}
}

// run executes actions on the tab, cancelled by either ctx or the tab.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: tab closed", bus.ErrNoListener)
	default:
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// eval runs a short agent call with the default timeout.
func (p *Page) eval(expr string, res any) error {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	err := p.run(ctx, chromedp.Evaluate(expr, res))
	if err != nil {
		p.log.Debug().Err(err).Str("expr", expr).Msg("agent call failed")
	}
	return err
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// call renders fn(args...) on the agent object as a JS expression.
func call(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		parts[i] = string(b)
	}
	return fmt.Sprintf("window.__hoversave.%s(%s)", fn, strings.Join(parts, ", "))
}

// Elements implements page.Source.
func (p *Page) Elements(ctx context.Context) ([]page.Element, error) {
	var snaps []*page.ElementSnapshot
	if err := p.run(ctx, chromedp.Evaluate(call("elements"), &snaps)); err != nil {
		return nil, fmt.Errorf("browser: snapshot elements: %w", err)
	}
	out := make([]page.Element, 0, len(snaps))
	for _, s := range snaps {
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// Send implements bus.Channel by handing the envelope to the agent script.
func (p *Page) Send(ctx context.Context, m bus.Message) (bus.Reply, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return bus.Reply{}, fmt.Errorf("browser: encode message: %w", err)
	}
	expr := fmt.Sprintf("window.__hoversave ? %s : null", call("handle", string(raw)))
	var out []byte
	if err := p.run(ctx, chromedp.Evaluate(expr, &out, awaitPromise)); err != nil {
		return bus.Reply{}, err
	}
	if !gjson.ParseBytes(out).IsObject() {
		return bus.Reply{}, fmt.Errorf("%w for %q in page", bus.ErrNoListener, m.Type)
	}
	var r bus.Reply
	if err := json.Unmarshal(out, &r); err != nil {
		return bus.Reply{}, fmt.Errorf("browser: decode reply: %w", err)
	}
	return r, nil
}

// Rasterize draws the image in a page canvas.
func (p *Page) Rasterize(ctx context.Context, req bus.RasterizeRequest) (bus.RasterizeReply, error) {
	var reply bus.RasterizeReply
	if err := bus.Call(ctx, p, bus.TypeRasterize, req, &reply); err != nil {
		return bus.RasterizeReply{}, err
	}
	return reply, nil
}

// liveElement answers geometry and attachment from the tab instead of the
// snapshot taken when the event fired.
type liveElement struct {
	*page.ElementSnapshot
	p *Page
}

func (p *Page) live(s *page.ElementSnapshot) page.Element { return liveElement{ElementSnapshot: s, p: p} }

func (e liveElement) BoundingRect() page.Rect {
	var r *page.Rect
	if err := e.p.eval(call("rect", e.ID()), &r); err != nil || r == nil {
		return e.ElementSnapshot.BoundingRect()
	}
	return *r
}

func (e liveElement) Connected() bool {
	var ok bool
	if err := e.p.eval(call("connected", e.ID()), &ok); err != nil {
		return false
	}
	return ok
}

// The methods below implement hover.Surface.

func (p *Page) NewAffordance(onClick func()) hover.Affordance {
	p.mu.Lock()
	p.onClick = onClick
	p.mu.Unlock()
	_ = p.eval("window.__hoversave.affordance.create()", nil)
	return affordance{p: p}
}

func (p *Page) ScrollOffset() page.Point {
	var pt page.Point
	_ = p.eval(call("scroll"), &pt)
	return pt
}

func (p *Page) Hovered(el page.Element) bool {
	var ok bool
	_ = p.eval(call("hovered", el.ID()), &ok)
	return ok
}

func (p *Page) Highlight(el page.Element, outline string) {
	_ = p.eval(call("highlight", el.ID(), outline), nil)
}

func (p *Page) ClearHighlight(el page.Element) {
	_ = p.eval(call("clear", el.ID()), nil)
}

type affordance struct{ p *Page }

func (a affordance) MoveTo(pt page.Point) {
	_ = a.p.eval(call("affordance.move", pt.X, pt.Y), nil)
}

func (a affordance) Show() { _ = a.p.eval(call("affordance.show"), nil) }
func (a affordance) Hide() { _ = a.p.eval(call("affordance.hide"), nil) }

func (a affordance) Hovered() bool {
	var ok bool
	_ = a.p.eval(call("affordance.hovered"), &ok)
	return ok
}

var _ interface {
	hover.Surface
	page.Source
	bus.Channel
} = (*Page)(nil)
