package page

import (
	"context"

	"hoversave/internal/settings"
	"hoversave/media"
)

// Source is anything that can enumerate a document's elements in order.
type Source interface {
	URL() string
	Elements(ctx context.Context) ([]Element, error)
}

// Scan classifies every element of src in document order and returns the
// qualifying media. A source URL seen earlier in the walk is not repeated.
func Scan(ctx context.Context, src Source, snap settings.Snapshot) ([]media.Candidate, error) {
	elems, err := src.Elements(ctx)
	if err != nil {
		return nil, err
	}
	docURL := src.URL()
	seen := make(map[string]struct{}, len(elems))
	out := []media.Candidate{}
	for _, el := range elems {
		c, ok := Classify(el, snap, docURL)
		if !ok {
			continue
		}
		if _, dup := seen[c.SourceURL]; dup {
			continue
		}
		seen[c.SourceURL] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// Static is a fixed list of elements, used for snapshots that arrive over
// the message channel.
type Static struct {
	DocURL string
	Items  []Element
}

func (s Static) URL() string { return s.DocURL }

func (s Static) Elements(context.Context) ([]Element, error) { return s.Items, nil }
