package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/batch"
	"github.com/RSGInc/bts-populationsim/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate [batch...]",
	Short: "Compare synthesized totals with the controls of finished batches",
	Long:  "Validates the named batches, or every batch of the configured states when none is named. Reports are written to <output>/<batch>/validation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		settings, err := validate.LoadSettings(cfg.Validation.Settings)
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
		opts := batchOptions(cfg, size, false)

		batches, err := namedBatches(args, opts.Size)
		if err != nil {
			return err
		}

		failed := 0
		for _, b := range batches {
			paths := opts.Paths(b)
			report, err := validate.Run(ctx, validate.BatchConfig(*settings, cfg.Controls.Specs, paths))
			if err != nil {
				failed++
				zap.L().Error("validation failed", zap.String("batch", b.Name), zap.Error(err))
				continue
			}
			zap.L().Info("validated batch",
				zap.String("batch", b.Name),
				zap.Int("controls", report.Stats.Len()),
				zap.Int("uniformity_reports", len(report.Uniformity)),
			)
		}
		if failed > 0 {
			return eris.Errorf("validate: %d of %d batches failed", failed, len(batches))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Int("size", 0, "states per batch when deriving batch names (default: batch.size)")
	rootCmd.AddCommand(validateCmd)
}

// namedBatches returns batches for explicit names, or plans the configured
// states.
func namedBatches(names []string, size int) ([]batch.Batch, error) {
	if len(names) > 0 {
		out := make([]batch.Batch, len(names))
		for i, n := range names {
			out[i] = batch.Batch{Name: n}
		}
		return out, nil
	}
	abbrs, err := resolveStates(nil, cfg)
	if err != nil {
		return nil, err
	}
	return batch.Plan(abbrs, size), nil
}
