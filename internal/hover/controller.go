// Package hover implements the hover-to-save interaction: a debounced
// Idle → Armed → Displayed state machine driving a single save affordance.
package hover

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hoversave/internal/page"
	"hoversave/internal/settings"
	"hoversave/media"
)

type State int

const (
	Idle State = iota
	Armed
	Displayed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Displayed:
		return "displayed"
	}
	return "idle"
}

const (
	// GraceDelay is how long the pointer may be off both the element and the
	// affordance before the affordance is dismissed.
	GraceDelay = 100 * time.Millisecond

	offsetFromRight = 40
	offsetFromTop   = 10
)

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

type Config struct {
	Surface  Surface
	Settings SettingsSource
	// DocumentURL returns the URL of the page currently shown.
	DocumentURL func() string
	// OnSave receives the candidate when the affordance is clicked.
	OnSave    func(media.Candidate)
	Scheduler Scheduler
	Logger    zerolog.Logger
}

// Controller owns the single hover session of one page context. State lives
// under mu; Surface calls may block on the page and run under paint only, so
// a slow draw never holds up state changes.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	state       State
	armed       page.Element
	candidate   media.Candidate
	timer       Timer
	gen         uint64
	aff         Affordance
	highlighted page.Element

	paint sync.Mutex
}

func New(cfg Config) *Controller {
	if cfg.Scheduler == nil {
		cfg.Scheduler = wallScheduler{}
	}
	if cfg.DocumentURL == nil {
		cfg.DocumentURL = func() string { return "" }
	}
	return &Controller{cfg: cfg, log: cfg.Logger.With().Str("component", "hover").Logger()}
}

// State returns the current state and, unless Idle, the armed element.
func (c *Controller) State() (State, page.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.armed
}

// MouseEnter arms el when it classifies as media. A qualifying enter on a
// different element preempts whatever is armed or displayed.
func (c *Controller) MouseEnter(el page.Element) {
	if el == nil {
		return
	}
	snap := c.cfg.Settings.Snapshot()
	docURL := c.cfg.DocumentURL()
	if !snap.Enabled || snap.URLExcluded(docURL) {
		return
	}
	if c.isArmed(el) {
		return
	}
	cand, ok := page.Classify(el, snap, docURL)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.state != Idle && c.armed != nil && c.armed.ID() == el.ID() {
		c.mu.Unlock()
		return
	}
	undo := c.resetLocked()
	c.state = Armed
	c.armed = el
	c.candidate = cand
	gen := c.gen
	c.timer = c.cfg.Scheduler.AfterFunc(snap.HoverDelay, func() { c.fire(gen) })
	c.mu.Unlock()

	c.draw(undo)
	c.log.Debug().Str("element", el.ID()).Str("url", cand.SourceURL).Msg("armed")
}

func (c *Controller) isArmed(el page.Element) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Idle && c.armed != nil && c.armed.ID() == el.ID()
}

// MouseLeave handles the pointer leaving el. Leaving anything but the armed
// element is ignored.
func (c *Controller) MouseLeave(el page.Element) {
	if el == nil {
		return
	}
	var undo func()
	c.mu.Lock()
	if c.armed != nil && c.armed.ID() == el.ID() {
		switch c.state {
		case Armed:
			undo = c.resetLocked()
		case Displayed:
			c.scheduleLeaveCheckLocked()
		}
	}
	c.mu.Unlock()
	c.draw(undo)
}

// AffordanceLeave handles the pointer leaving the affordance itself.
func (c *Controller) AffordanceLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Displayed {
		c.scheduleLeaveCheckLocked()
	}
}

func (c *Controller) scheduleLeaveCheckLocked() {
	gen := c.gen
	c.cfg.Scheduler.AfterFunc(GraceDelay, func() { c.checkLeave(gen) })
}

func (c *Controller) checkLeave(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Displayed {
		c.mu.Unlock()
		return
	}
	el, aff := c.armed, c.aff
	c.mu.Unlock()

	if c.cfg.Surface.Hovered(el) || (aff != nil && aff.Hovered()) {
		return
	}
	c.resetIf(gen, Displayed)
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Armed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	el, aff := c.armed, c.aff
	c.mu.Unlock()

	if !el.Connected() {
		c.log.Debug().Str("element", el.ID()).Msg("armed element detached")
		c.resetIf(gen, Armed)
		return
	}
	if aff == nil {
		aff = c.cfg.Surface.NewAffordance(c.Click)
	}
	pos := c.position(el)
	outline := c.cfg.Settings.Snapshot().Highlight.Outline()

	c.mu.Lock()
	if c.aff == nil {
		c.aff = aff
	}
	aff = c.aff
	if gen != c.gen || c.state != Armed {
		c.mu.Unlock()
		return
	}
	c.state = Displayed
	if outline != "" {
		c.highlighted = el
	}
	c.mu.Unlock()

	c.paint.Lock()
	defer c.paint.Unlock()
	aff.MoveTo(pos)
	aff.Show()
	if outline != "" {
		c.cfg.Surface.Highlight(el, outline)
	}
	// a reset that ran while we drew has already painted its undo
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		aff.Hide()
		if outline != "" {
			c.cfg.Surface.ClearHighlight(el)
		}
	}
}

func (c *Controller) position(el page.Element) page.Point {
	r := el.BoundingRect()
	off := c.cfg.Surface.ScrollOffset()
	return page.Point{X: r.Right() - offsetFromRight + off.X, Y: r.Y + offsetFromTop + off.Y}
}

// Reposition follows scroll and resize while the affordance is shown.
func (c *Controller) Reposition() {
	c.mu.Lock()
	if c.state != Displayed {
		c.mu.Unlock()
		return
	}
	gen, el, aff := c.gen, c.armed, c.aff
	c.mu.Unlock()

	if !el.Connected() {
		c.resetIf(gen, Displayed)
		return
	}
	pos := c.position(el)
	c.paint.Lock()
	defer c.paint.Unlock()
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if current {
		aff.MoveTo(pos)
	}
}

// Click triggers the save for the displayed candidate, then returns to Idle.
func (c *Controller) Click() {
	c.mu.Lock()
	if c.state != Displayed {
		c.mu.Unlock()
		return
	}
	cand := c.candidate
	gen := c.gen
	onSave := c.cfg.OnSave
	c.mu.Unlock()

	if onSave != nil {
		onSave(cand)
	}
	c.resetIf(gen, Displayed)
}

// Reset cancels any pending timer and hides the affordance.
func (c *Controller) Reset() {
	c.mu.Lock()
	undo := c.resetLocked()
	c.mu.Unlock()
	c.draw(undo)
}

// SettingsChanged resets the session when hovering was switched off or the
// current page became excluded.
func (c *Controller) SettingsChanged(_, next settings.Snapshot) {
	if !next.Enabled || next.URLExcluded(c.cfg.DocumentURL()) {
		c.Reset()
	}
}

// resetIf resets the session only while it is still generation gen in state st.
func (c *Controller) resetIf(gen uint64, st State) {
	var undo func()
	c.mu.Lock()
	if gen == c.gen && c.state == st {
		undo = c.resetLocked()
	}
	c.mu.Unlock()
	c.draw(undo)
}

func (c *Controller) draw(f func()) {
	if f == nil {
		return
	}
	c.paint.Lock()
	defer c.paint.Unlock()
	f()
}

// resetLocked returns the session to Idle. The returned func hides what was
// shown and must be run through draw after mu is released.
func (c *Controller) resetLocked() func() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var aff Affordance
	if c.state == Displayed {
		aff = c.aff
	}
	hl := c.highlighted
	c.highlighted = nil
	c.state = Idle
	c.armed = nil
	c.candidate = media.Candidate{}
	if aff == nil && hl == nil {
		return nil
	}
	return func() {
		if aff != nil {
			aff.Hide()
		}
		if hl != nil {
			c.cfg.Surface.ClearHighlight(hl)
		}
	}
}
