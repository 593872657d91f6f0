package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RSGInc/bts-populationsim/internal/batch"
)

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Concatenate the expanded households and seeds of every batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		flagStates, _ := cmd.Flags().GetStringSlice("states")
		abbrs, err := resolveStates(flagStates, cfg)
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.Paths.Combined
		}
		opts := batchOptions(cfg, size, false)

		counts, err := batch.Combine(ctx, opts, batch.Plan(abbrs, opts.Size), out)
		if err != nil {
			return err
		}
		rows := make(map[string]int, len(counts))
		for name, n := range counts {
			rows[name] = int(n)
		}
		formatCounts(os.Stdout, rows)
		return nil
	},
}

func init() {
	combineCmd.Flags().StringSlice("states", nil, "state abbreviations, or ALL (default: geography.states)")
	combineCmd.Flags().Int("size", 0, "states per batch (default: batch.size)")
	combineCmd.Flags().String("out", "", "output directory (default: paths.combined)")
	rootCmd.AddCommand(combineCmd)
}
