package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hoversave/internal/pipeline"
	"hoversave/media"
)

const commandTimeout = 5 * time.Minute

func newSaveCmd(g *globals) *cobra.Command {
	var (
		mode     string
		kind     string
		filename string
	)
	cmd := &cobra.Command{
		Use:   "save URL",
		Short: "Download one media URL through the conversion pipeline",
		Long: `Download one media URL the way a hover save would.

Modes: normal, cache, canvas, webp-to-png, nextgen. Without --mode the
configured download mode applies, and WebP URLs are converted when
convert_webp_to_png is on. Conversion failures fall back to a plain download.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			k, err := media.ParseKind(kind)
			if err != nil {
				return err
			}
			url := media.StripFragment(args[0])
			req := media.DownloadRequest{
				SourceURL:      url,
				TargetFilename: filename,
				Kind:           k,
				Mode:           a.Settings.Snapshot().ResolveMode(url),
			}
			if req.TargetFilename == "" {
				req.TargetFilename = media.FilenameFor(url, k, time.Now())
			}
			if cmd.Flags().Changed("mode") {
				if req.Mode, err = media.ParseMode(mode); err != nil {
					return err
				}
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			return report(cmd, a.Coordinator.Execute(ctx, req))
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "download mode")
	cmd.Flags().StringVarP(&kind, "kind", "k", "image", "media kind: image, video, svg or background")
	cmd.Flags().StringVarP(&filename, "output", "o", "", "file name inside the downloads directory")
	return cmd
}

func newGetCmd(g *globals) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a link, image or video directly, without conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			return report(cmd, a.Coordinator.DownloadDirect(ctx, args[0], media.ParseDirectTarget(target)))
		},
	}
	cmd.Flags().StringVarP(&target, "as", "a", "link", "what the URL points at: link, image or video")
	return cmd
}

// report prints the reply and turns a surviving platform failure into the
// command's error.
func report(cmd *cobra.Command, res pipeline.Result) error {
	if err := printJSON(cmd.OutOrStdout(), res.Reply()); err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("download failed: %w", res.Err)
	}
	return nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), commandTimeout)
}
