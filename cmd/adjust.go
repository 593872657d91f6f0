package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/adjust"
	"github.com/RSGInc/bts-populationsim/internal/batch"
	"github.com/RSGInc/bts-populationsim/internal/config"
	"github.com/RSGInc/bts-populationsim/internal/controls"
)

var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Rescale prepared 5-year seeds and controls to a 1-year vintage",
	Long:  "Computes 1-year over 5-year PUMS weight ratios per PUMA, state and region and applies them to the seed weights and control totals of every prepared batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
		size, _ := cmd.Flags().GetInt("size")
		opts := batchOptions(cfg, size, false)

		specs, err := controls.LoadSpecs(cfg.Controls.Specs)
		if err != nil {
			return err
		}

		f := newFetcher(cfg)
		oneYear := pumsClient(cfg, f, cfg.Adjust.Year, "acs1")
		fiveYear := pumsClient(cfg, f, cfg.Census.Year, "acs5")

		for _, b := range batch.Plan(abbrs, opts.Size) {
			log := zap.L().With(zap.String("batch", b.Name))
			one, err := adjust.FetchWeights(ctx, oneYear, b.States)
			if err != nil {
				return eris.Wrapf(err, "adjust %s: 1-year weights", b.Name)
			}
			five, err := adjust.FetchWeights(ctx, fiveYear, b.States)
			if err != nil {
				return eris.Wrapf(err, "adjust %s: 5-year weights", b.Name)
			}
			factors, err := adjust.ComputeFactors(one, five)
			if err != nil {
				return eris.Wrapf(err, "adjust %s", b.Name)
			}
			if err := adjust.Apply(opts.Paths(b), specs, factors); err != nil {
				return eris.Wrapf(err, "adjust %s", b.Name)
			}
			log.Info("batch adjusted")
		}
		return nil
	},
}

func init() {
	adjustCmd.Flags().StringSlice("states", nil, "state abbreviations, or ALL (default: geography.states)")
	adjustCmd.Flags().Int("size", 0, "states per batch (default: batch.size)")
	rootCmd.AddCommand(adjustCmd)
}
