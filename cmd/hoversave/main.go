// Command hoversave saves media from web pages: from a live browser tab by
// hovering, or from the command line and a local HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hoversave/internal/app"
	"hoversave/internal/config"
	"hoversave/internal/logging"
)

// version is overridden at build time via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

type globals struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "hoversave",
		Short:         "Save images, video and SVG from web pages",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			g.cfg = cfg
			g.log = logging.New(logging.Options{
				Level:   cfg.Log.Level,
				Writers: cfg.Log.Writer,
				File:    cfg.Log.File,
				MaxMB:   cfg.Log.MaxMB,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultPath, "YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(g),
		newSaveCmd(g),
		newGetCmd(g),
		newScanCmd(g),
		newInspectCmd(g),
		newWatchCmd(g),
		newSettingsCmd(g),
		newHistoryCmd(g),
		newStylesCmd(g),
	)
	return root
}

// open builds the background App for one command run.
func (g *globals) open(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), g.cfg, g.log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
