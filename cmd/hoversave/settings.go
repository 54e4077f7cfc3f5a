package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"hoversave/internal/settings"
)

func newSettingsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change persisted settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show every setting with its effective value",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := g.open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				stored, err := a.Store.All(cmd.Context())
				if err != nil {
					return err
				}
				scope := map[string]settings.Scope{}
				for _, e := range stored {
					scope[e.Key] = e.Scope
				}
				m := a.Settings.Snapshot().Map()
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
				for _, k := range keys {
					b, _ := json.Marshal(m[k])
					src := "default"
					if s, ok := scope[k]; ok {
						src = string(s)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", k, b, src)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one setting as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := g.open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				v, err := a.Settings.Snapshot().Get(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Persist one setting",
			Long: `Persist one setting. VALUE is JSON; bare words are taken as strings and
list settings also accept a comma separated list, e.g.

  hoversave settings set domain_exclusions example.com,cdn.example.org
  hoversave settings set hover_delay_ms 800`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := g.open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				raw := settingValue(args[0], args[1])
				if err := a.Store.SetRaw(cmd.Context(), args[0], settings.ScopeSync, raw); err != nil {
					return err
				}
				v, _ := a.Settings.Snapshot().Get(args[0])
				return printJSON(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "reset KEY",
			Short: "Drop a persisted setting so its default applies",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := g.open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.Store.Delete(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

// settingValue turns command line input into the JSON the store expects.
func settingValue(key, in string) json.RawMessage {
	in = strings.TrimSpace(in)
	if gjson.Valid(in) {
		return json.RawMessage(in)
	}
	var v any = in
	switch key {
	case settings.KeyAllowedExtensions, settings.KeyDomainExclusions:
		parts := []string{}
		for _, p := range strings.Split(in, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		v = parts
	}
	b, _ := json.Marshal(v)
	return b
}
