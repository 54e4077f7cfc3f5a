package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hoversave/internal/app"
	"hoversave/internal/bus"
	"hoversave/media"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		headless bool
		profile  string
	)
	cmd := &cobra.Command{
		Use:   "watch URL",
		Short: "Open a browser window; hover over media and click the button to save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			return a.Watch(cmd.Context(), args[0], app.WatchOptions{
				Headless:    headless || g.cfg.Browser.Headless,
				UserDataDir: profile,
				OnSaved: func(req media.DownloadRequest, reply bus.DownloadReply, err error) {
					if err != nil {
						fmt.Fprintf(out, "failed  %s: %v\n", req.SourceURL, err)
						return
					}
					fmt.Fprintf(out, "saved   %s -> %s (%s)\n", req.SourceURL, reply.Filename, reply.Mode)
				},
			})
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chromium without a window")
	cmd.Flags().StringVar(&profile, "profile", "", "Chromium user data directory")
	return cmd
}
