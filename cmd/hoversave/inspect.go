package main

import (
	"github.com/spf13/cobra"

	"hoversave/media"
)

func newInspectCmd(g *globals) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "inspect URL",
		Short: "Fetch the head of an image and report its format, size and WebP animation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := a.Fetcher.Head(ctx, args[0], n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), media.Inspect(resp))
		},
	}
	cmd.Flags().IntVarP(&n, "bytes", "n", 1024, "how many leading bytes to fetch")
	return cmd
}
