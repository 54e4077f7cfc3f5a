package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"hoversave/internal/app"
	"hoversave/internal/browser"
	"hoversave/internal/bus"
	"hoversave/internal/page"
	"hoversave/media"
)

func newScanCmd(g *globals) *cobra.Command {
	var (
		live bool
		save bool
	)
	cmd := &cobra.Command{
		Use:   "scan URL",
		Short: "List the media a page offers, optionally saving all of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var src page.Source
			if live {
				b, err := browser.New(browser.Config{
					Headless: true,
					ExecPath: g.cfg.Browser.ExecPath,
					Cache:    a.Cache,
					Logger:   g.log,
				})
				if err != nil {
					return err
				}
				defer b.Close()
				p, err := b.Open(ctx, args[0])
				if err != nil {
					return err
				}
				defer p.Close()
				// conversions draw in the rendered page
				defer a.AttachBrowserPage(p)()
				src = p
			} else {
				doc, err := page.Load(ctx, a.Fetcher, args[0], page.Options{URL: args[0], Fetcher: a.Fetcher, ProbeSizes: true, Log: g.log})
				if err != nil {
					return err
				}
				src = doc
			}
			found, err := page.Scan(ctx, src, a.Settings.Snapshot())
			if err != nil {
				return err
			}
			if found == nil {
				found = []media.Candidate{}
			}
			if !save {
				return printJSON(cmd.OutOrStdout(), bus.ScanReply{URL: src.URL(), Candidates: found})
			}
			return saveAll(ctx, cmd, a, found)
		},
	}
	cmd.Flags().BoolVar(&live, "browser", false, "render the page in headless Chromium instead of parsing it statically")
	cmd.Flags().BoolVar(&save, "save", false, "download every candidate found")
	return cmd
}

func saveAll(ctx context.Context, cmd *cobra.Command, a *app.App, found []media.Candidate) error {
	snap := a.Settings.Snapshot()
	replies := make([]bus.DownloadReply, 0, len(found))
	var errs []error
	for _, c := range found {
		res := a.Coordinator.Execute(ctx, media.DownloadRequest{
			SourceURL:      c.SourceURL,
			TargetFilename: media.FilenameFor(c.SourceURL, c.Kind, time.Now()),
			Mode:           snap.ResolveMode(c.SourceURL),
			Kind:           c.Kind,
		})
		replies = append(replies, res.Reply())
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if err := printJSON(cmd.OutOrStdout(), replies); err != nil {
		return err
	}
	return errors.Join(errs...)
}
