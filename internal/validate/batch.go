package validate

import (
	"context"
	"path/filepath"

	"github.com/RSGInc/bts-populationsim/internal/prepare"
)

// Dir is the validation output directory under a batch's output.
const Dir = "validation"

// BatchConfig locates the validation inputs and outputs of one batch.
func BatchConfig(s Settings, controlsPath string, paths prepare.Paths) Config {
	return Config{
		Settings:       s,
		ControlsPath:   controlsPath,
		SeedHouseholds: paths.SeedHouseholds(),
		Expanded:       paths.Expanded(),
		Summary:        paths.Summary,
		OutDir:         filepath.Join(paths.Output, Dir),
	}
}

// Batch validates one batch and discards the in-memory report.
func Batch(ctx context.Context, s Settings, controlsPath string, paths prepare.Paths) error {
	_, err := Run(ctx, BatchConfig(s, controlsPath, paths))
	return err
}
