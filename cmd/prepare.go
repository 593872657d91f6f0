package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/batch"
	"github.com/RSGInc/bts-populationsim/internal/config"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Write seeds, control totals and the crosswalk for one batch of states",
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
		replace, _ := cmd.Flags().GetBool("replace")

		env, err := initSources(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		prep, err := newPreparer(cfg, env)
		if err != nil {
			return err
		}

		b := batch.Batch{Name: batch.Name(abbrs), States: abbrs}
		paths := batchOptions(cfg, len(abbrs), replace).Paths(b)
		res, err := prep.Prepare(ctx, paths, abbrs, replace || cfg.Batch.Replace)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.String("batch", b.Name), zap.String("data", paths.Data)}
		if res.Seeds != nil {
			fields = append(fields, zap.Int("households", res.Seeds.Households.Len()), zap.Int("persons", res.Seeds.Persons.Len()))
		}
		if res.Crosswalk != nil {
			fields = append(fields, zap.Int("crosswalk_rows", res.Crosswalk.Table.Len()))
		}
		zap.L().Info("batch prepared", fields...)
		return nil
	},
}

func init() {
	prepareCmd.Flags().StringSlice("states", nil, "state abbreviations, or ALL (default: geography.states)")
	prepareCmd.Flags().Bool("replace", false, "rebuild artifacts that already exist")
	rootCmd.AddCommand(prepareCmd)
}
