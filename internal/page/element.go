// Package page models the DOM a hover session runs against. Elements come
// either from a parsed static document or from snapshots sent by the agent
// script running in a live browser tab.
package page

import "strings"

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Point is a document or viewport position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is the read-only view of a DOM element the classifier and the
// hover controller need.
type Element interface {
	// ID is stable for the element's lifetime within one document.
	ID() string
	// Tag is the lower-case local name.
	Tag() string
	Attr(name string) string
	// Prop reads a DOM property such as "src" or "currentSrc"; URLs are absolute.
	Prop(name string) string
	// Sources lists the src of child <source> elements in document order.
	Sources() []string
	ComputedStyle(prop string) string
	BoundingRect() Rect
	// Markup serialises the element subtree.
	Markup() (string, error)
	// Connected reports whether the element is still attached to its document.
	Connected() bool
}

// NodeKind is the closed set of element shapes the classifier knows about.
type NodeKind int

const (
	NodeGeneric NodeKind = iota
	NodeImage
	NodeVideo
	NodeSvg
)

func (k NodeKind) String() string {
	switch k {
	case NodeImage:
		return "image"
	case NodeVideo:
		return "video"
	case NodeSvg:
		return "svg"
	}
	return "generic"
}

// KindOf maps an element onto its NodeKind by tag.
func KindOf(el Element) NodeKind {
	switch strings.ToLower(el.Tag()) {
	case "img":
		return NodeImage
	case "video":
		return NodeVideo
	case "svg":
		return NodeSvg
	}
	return NodeGeneric
}

// ElementSnapshot is an Element captured at one instant, typically by the
// agent script in a browser tab. It round-trips through JSON.
type ElementSnapshot struct {
	NodeID     string            `json:"id"`
	TagName    string            `json:"tag"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Src        string            `json:"src,omitempty"`
	CurrentSrc string            `json:"currentSrc,omitempty"`
	SourceList []string          `json:"sources,omitempty"`
	Background string            `json:"backgroundImage,omitempty"`
	Display    string            `json:"display,omitempty"`
	Rect       Rect              `json:"rect"`
	OuterHTML  string            `json:"markup,omitempty"`
	Detached   bool              `json:"detached,omitempty"`
}

func (s *ElementSnapshot) ID() string  { return s.NodeID }
func (s *ElementSnapshot) Tag() string { return strings.ToLower(s.TagName) }

func (s *ElementSnapshot) Attr(name string) string {
	if v, ok := s.Attrs[name]; ok {
		return v
	}
	for k, v := range s.Attrs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (s *ElementSnapshot) Prop(name string) string {
	switch name {
	case "src":
		return s.Src
	case "currentSrc":
		return s.CurrentSrc
	}
	return s.Attr(name)
}

func (s *ElementSnapshot) Sources() []string { return s.SourceList }

func (s *ElementSnapshot) ComputedStyle(prop string) string {
	switch strings.ToLower(prop) {
	case "background-image":
		return s.Background
	case "display":
		return s.Display
	}
	return ""
}

func (s *ElementSnapshot) BoundingRect() Rect { return s.Rect }

func (s *ElementSnapshot) Markup() (string, error) {
	if s.OuterHTML == "" {
		return "", errEmptyMarkup
	}
	return s.OuterHTML, nil
}

func (s *ElementSnapshot) Connected() bool { return !s.Detached }
