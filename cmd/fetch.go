package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/config"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <acs|pums|bg|tract|puma>",
	Short: "Download raw census tables or TIGER layers into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModePrepare); err != nil {
			return err
		}
		flagStates, _ := cmd.Flags().GetStringSlice("states")
		abbrs, err := resolveStates(flagStates, cfg)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		env, err := initSources(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if dt, err := census.ParseDataType(args[0]); err == nil {
			if refresh {
				if err := env.Census.Refresh(ctx, dt); err != nil {
					return eris.Wrap(err, "fetch: refresh")
				}
			}
			tables, err := env.Census.Fetch(ctx, dt, abbrs)
			if err != nil {
				return eris.Wrapf(err, "fetch %s", dt)
			}
			counts := make(map[string]int, len(tables))
			for geo, t := range tables {
				counts[geo] = t.Len()
			}
			formatCounts(os.Stdout, counts)
			return nil
		}

		level, err := tiger.ParseLevel(args[0])
		if err != nil {
			return eris.Errorf("fetch: unknown source %q, want acs, pums, bg, tract or puma", args[0])
		}
		if refresh {
			if err := env.Tiger.Refresh(ctx, level); err != nil {
				return eris.Wrap(err, "fetch: refresh")
			}
		}
		layer, err := env.Tiger.Fetch(ctx, level, abbrs)
		if err != nil {
			return eris.Wrapf(err, "fetch %s", level)
		}
		formatCounts(os.Stdout, map[string]int{string(level): len(layer.Features)})
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringSlice("states", nil, "state abbreviations, or ALL (default: geography.states)")
	fetchCmd.Flags().Bool("refresh", false, "drop cached rows before fetching")
	rootCmd.AddCommand(fetchCmd)
}

// formatCounts writes one row per name, sorted.
func formatCounts(out io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tROWS")
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 4)+"\t"+strings.Repeat("-", 4))
	for _, n := range names {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", n, counts[n])
	}
	_ = w.Flush()
}
