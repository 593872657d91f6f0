package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/batch"
	"github.com/RSGInc/bts-populationsim/internal/config"
	"github.com/RSGInc/bts-populationsim/internal/engine"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/validate"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Prepare, synthesize and validate every batch of states",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeBatch); err != nil {
			return err
		}
		flagStates, _ := cmd.Flags().GetStringSlice("states")
		abbrs, err := resolveStates(flagStates, cfg)
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
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

		ledger, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck
		if err := ledger.Migrate(ctx); err != nil {
			return err
		}

		validator, err := newValidator(cfg)
		if err != nil {
			return err
		}

		runner := engine.NewSubprocess(cfg.Engine.Command, cfg.Engine.WorkDir, cfg.Engine.Env)
		d := batch.NewDriver(prep, runner, validator, ledger, batchOptions(cfg, size, replace))
		outcomes, err := d.Run(ctx, abbrs)
		formatOutcomes(os.Stdout, outcomes)
		if err != nil {
			return err
		}
		if failed := countFailed(outcomes); failed > 0 {
			return eris.Errorf("batch: %d of %d batches failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringSlice("states", nil, "state abbreviations, or ALL (default: geography.states)")
	batchCmd.Flags().Int("size", 0, "states per batch (default: batch.size)")
	batchCmd.Flags().Bool("replace", false, "rebuild inputs and rerun the synthesizer")
	rootCmd.AddCommand(batchCmd)
}

// newValidator returns nil when validation is disabled.
func newValidator(c *config.Config) (batch.Validator, error) {
	if !c.Validation.Enabled {
		return nil, nil
	}
	settings, err := validate.LoadSettings(c.Validation.Settings)
	if err != nil {
		return nil, err
	}
	specs := c.Controls.Specs
	return batch.ValidatorFunc(func(ctx context.Context, paths prepare.Paths) error {
		return validate.Batch(ctx, *settings, specs, paths)
	}), nil
}

func countFailed(outcomes []batch.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// formatOutcomes writes one row per batch to w.
func formatOutcomes(out io.Writer, outcomes []batch.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BATCH\tRUN\tSTAGE\tRESULT")
	_, _ = fmt.Fprintln(w, "-----\t---\t-----\t------")
	for _, o := range outcomes {
		result := "ok"
		if o.Err != nil {
			result = o.Err.Error()
			if len(result) > 60 {
				result = result[:57] + "..."
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Batch.Name, truncateID(o.RunID), o.Stage, result)
	}
	_ = w.Flush()
	if n := countFailed(outcomes); n > 0 {
		zap.L().Warn("some batches failed", zap.Int("failed", n))
	}
}
