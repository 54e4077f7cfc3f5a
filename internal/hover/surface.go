package hover

import (
	"time"

	"hoversave/internal/page"
)

// Affordance is the floating save button. It is created once per page and
// hidden between uses.
type Affordance interface {
	MoveTo(p page.Point)
	Show()
	Hide()
	// Hovered reports whether the pointer is over the affordance.
	Hovered() bool
}

// Surface is the page-side drawing and hit-testing the controller needs.
// Implementations must not call back into the controller synchronously.
type Surface interface {
	// NewAffordance creates the hidden affordance; onClick runs on activation.
	NewAffordance(onClick func()) Affordance
	ScrollOffset() page.Point
	// Hovered reports whether the pointer is over el.
	Hovered(el page.Element) bool
	Highlight(el page.Element, outline string)
	ClearHighlight(el page.Element)
}

// Timer is the cancellable half of a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
