package adjust

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Apply rewrites the prepared seeds and control tables of one batch with
// adjusted weights and rounded, scaled totals.
func Apply(paths prepare.Paths, specs []controls.ControlSpec, f *Factors) error {
	log := zap.L().With(zap.String("component", "adjust"), zap.String("data", paths.Data))

	hh, err := table.ReadCSVFile(paths.SeedHouseholds(), nil)
	if err != nil {
		return eris.Wrap(err, "adjust: read seed households")
	}
	per, err := table.ReadCSVFile(paths.SeedPersons(), nil)
	if err != nil {
		return eris.Wrap(err, "adjust: read seed persons")
	}
	xwalk, err := table.ReadCSVFile(paths.Crosswalk(), nil)
	if err != nil {
		return eris.Wrap(err, "adjust: read crosswalk")
	}

	targets := &controls.Targets{Tables: make(map[string]*table.Table)}
	for _, geo := range prepare.TargetGeographies {
		t, err := table.ReadCSVFile(paths.Targets(geo), nil)
		if err != nil {
			return eris.Wrapf(err, "adjust: read %s targets", geo)
		}
		targets.Geographies = append(targets.Geographies, geo)
		targets.Tables[geo] = t
	}

	if err := ApplySeeds(hh, per, f); err != nil {
		return err
	}
	if err := controls.ScaleTargets(targets, xwalk, specs, f.Scale()); err != nil {
		return err
	}

	if err := table.WriteCSVFile(paths.SeedHouseholds(), hh); err != nil {
		return err
	}
	if err := table.WriteCSVFile(paths.SeedPersons(), per); err != nil {
		return err
	}
	for _, geo := range targets.Geographies {
		if err := table.WriteCSVFile(paths.Targets(geo), targets.Tables[geo]); err != nil {
			return err
		}
	}
	log.Info("adjusted batch inputs", zap.Int("households", hh.Len()), zap.Int("persons", per.Len()))
	return nil
}
