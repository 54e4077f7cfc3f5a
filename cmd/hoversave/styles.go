package main

import (
	"github.com/spf13/cobra"

	"hoversave/internal/page"
)

type styledElement struct {
	ID     string            `json:"id"`
	Tag    string            `json:"tag"`
	Class  string            `json:"class,omitempty"`
	Rect   page.Rect         `json:"rect"`
	Styles map[string]string `json:"styles"`
}

// newStylesCmd prints the computed CSS of matching elements, which is what
// the background-image detection sees.
func newStylesCmd(g *globals) *cobra.Command {
	var props []string
	cmd := &cobra.Command{
		Use:   "styles URL SELECTOR",
		Short: "Debug the CSS cascade: print computed styles of matching elements",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			doc, err := page.Load(ctx, a.Fetcher, args[0], page.Options{URL: args[0], Fetcher: a.Fetcher, Log: g.log})
			if err != nil {
				return err
			}
			out := []styledElement{}
			for _, el := range doc.Find(args[1]) {
				st := doc.Styles(el)
				if len(props) > 0 {
					picked := make(map[string]string, len(props))
					for _, p := range props {
						picked[p] = el.ComputedStyle(p)
					}
					st = picked
				}
				out = append(out, styledElement{
					ID:     el.ID(),
					Tag:    el.Tag(),
					Class:  el.Attr("class"),
					Rect:   el.BoundingRect(),
					Styles: st,
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVarP(&props, "prop", "p", nil, "only print these properties")
	return cmd
}
