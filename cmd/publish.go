package main

import (
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/config"
	"github.com/RSGInc/bts-populationsim/internal/db"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/table"
	"github.com/RSGInc/bts-populationsim/internal/validate"
)

var publishCmd = &cobra.Command{
	Use:   "publish [batch...]",
	Short: "Copy prepared inputs and validation statistics into Postgres",
	Long:  "Replaces the rows of each batch in the publish schema. Batches default to the plan of the configured states.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModePublish); err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
		expanded, _ := cmd.Flags().GetBool("expanded")
		opts := batchOptions(cfg, size, false)

		batches, err := namedBatches(args, opts.Size)
		if err != nil {
			return err
		}

		pool, err := db.NewPool(ctx, cfg.Publish.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pub := db.NewPublisher(pool, cfg.Publish.Schema)

		for _, b := range batches {
			sets, stats, err := loadDatasets(opts.Paths(b), expanded)
			if err != nil {
				return eris.Wrapf(err, "publish %s", b.Name)
			}
			counts, err := pub.PublishBatch(ctx, b.Name, sets, stats)
			if err != nil {
				return eris.Wrapf(err, "publish %s", b.Name)
			}
			zap.L().Info("published batch", zap.String("batch", b.Name), zap.Any("rows", counts))
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().Int("size", 0, "states per batch when deriving batch names (default: batch.size)")
	publishCmd.Flags().Bool("expanded", false, "also publish final_expanded_household_ids")
	rootCmd.AddCommand(publishCmd)
}

// tableName derives a table name from an artifact file name.
func tableName(path string) string {
	return strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// loadDatasets reads the prepared inputs of a batch and, when present, its
// validation statistics and expanded households.
func loadDatasets(paths prepare.Paths, withExpanded bool) ([]db.Dataset, *table.Table, error) {
	files := paths.Inputs()
	if withExpanded {
		files = append(files, paths.Expanded())
	}
	if missing := prepare.Missing(files); len(missing) > 0 {
		return nil, nil, eris.Errorf("missing %s", strings.Join(missing, ", "))
	}

	sets := make([]db.Dataset, 0, len(files))
	for _, f := range files {
		t, err := table.ReadCSVFile(f, nil)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, db.Dataset{Name: tableName(f), Table: t})
	}

	statsPath := filepath.Join(paths.Output, validate.Dir, validate.StatsFile)
	if !fileExists(statsPath) {
		return sets, nil, nil
	}
	stats, err := table.ReadCSVFile(statsPath, nil)
	if err != nil {
		return nil, nil, err
	}
	return sets, stats, nil
}
