// Package prepare writes the engine inputs of one batch of states: seed
// tables, control targets and the geography crosswalk.
package prepare

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/crosswalk"
	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/seed"
	"github.com/RSGInc/bts-populationsim/internal/table"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

// DefaultTolerance is the relative control group tolerance.
const DefaultTolerance = 0.01

// Preparer holds the sources and engine configuration shared by batches.
type Preparer struct {
	Census  census.Fetcher
	Tiger   tiger.Fetcher
	Catalog *census.Catalog

	Remainders []controls.Remainder
	// Specs and Totals enable the control group checks. Rules enables the
	// seed check as well.
	Specs     []controls.ControlSpec
	Rules     controls.Rules
	Totals    controls.TotalControls
	Tolerance float64
}

// Result reports what one Prepare call produced.
type Result struct {
	Seeds     *seed.Seeds
	Targets   *controls.Targets
	Crosswalk *crosswalk.Result
	Skipped   []Class
}

type plan map[Class]bool

func (p plan) any(cs ...Class) bool {
	for _, c := range cs {
		if p[c] {
			return true
		}
	}
	return false
}

// Prepare writes the artifacts of abbrs under paths.Data. Without replace, an
// artifact class whose files all exist is left untouched.
func (p *Preparer) Prepare(ctx context.Context, paths Paths, abbrs []string, replace bool) (*Result, error) {
	log := zap.L().With(zap.String("component", "prepare"), zap.Strings("states", abbrs))
	start := time.Now()

	res := &Result{}
	todo := make(plan, len(Classes))
	for _, c := range Classes {
		if !replace && len(Missing(paths.Files(c))) == 0 {
			log.Info("artifacts present, skipping", zap.String("class", string(c)))
			res.Skipped = append(res.Skipped, c)
			continue
		}
		todo[c] = true
	}
	if len(todo) == 0 {
		return res, nil
	}
	if err := os.MkdirAll(paths.Data, 0o755); err != nil {
		return nil, eris.Wrap(err, "prepare: create data dir")
	}

	var acs, pums census.Tables
	var err error
	if todo.any(Targets, Crosswalk) {
		if acs, err = p.Census.Fetch(ctx, census.ACS, abbrs); err != nil {
			return nil, err
		}
	}
	if todo.any(Seeds, Crosswalk) {
		if pums, err = p.Census.Fetch(ctx, census.PUMS, abbrs); err != nil {
			return nil, err
		}
	}

	if todo[Seeds] {
		if res.Seeds, err = p.seeds(pums, abbrs); err != nil {
			return nil, err
		}
		if err := writeTables(map[string]*table.Table{
			paths.SeedHouseholds(): res.Seeds.Households,
			paths.SeedPersons():    res.Seeds.Persons,
		}); err != nil {
			return nil, err
		}
		log.Info("seeds written",
			zap.Int("households", res.Seeds.Households.Len()),
			zap.Int("persons", res.Seeds.Persons.Len()),
		)
	}

	if todo[Targets] {
		if res.Targets, err = p.targets(acs, abbrs); err != nil {
			return nil, err
		}
		out := make(map[string]*table.Table, len(TargetGeographies))
		for _, geo := range TargetGeographies {
			t := res.Targets.Table(geo)
			if t == nil {
				return nil, eris.Errorf("prepare: no %s control table", geo)
			}
			out[paths.Targets(geo)] = t
		}
		if err := writeTables(out); err != nil {
			return nil, err
		}
		log.Info("targets written", zap.Strings("geographies", res.Targets.Geographies))
	}

	if todo[Crosswalk] {
		if res.Crosswalk, err = p.crosswalk(ctx, acs, pums, abbrs); err != nil {
			return nil, err
		}
		if err := table.WriteCSVFile(paths.Crosswalk(), res.Crosswalk.Table); err != nil {
			return nil, err
		}
		log.Info("crosswalk written", zap.Int("block_groups", res.Crosswalk.Table.Len()))
	}

	log.Info("prepared", zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (p *Preparer) seeds(pums census.Tables, abbrs []string) (*seed.Seeds, error) {
	s, err := seed.Build(pums[census.Households], pums[census.Persons], abbrs)
	if err != nil {
		return nil, err
	}
	if len(p.Specs) > 0 && p.Rules != nil {
		if err := controls.CheckSeeds(s.Households, s.Persons, p.Specs, p.Rules, p.Totals, p.tolerance()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *Preparer) targets(acs census.Tables, abbrs []string) (*controls.Targets, error) {
	t, err := controls.Aggregate(acs, p.Catalog, p.Remainders, abbrs)
	if err != nil {
		return nil, err
	}
	if len(p.Specs) > 0 {
		if err := controls.CheckTargets(t, p.Specs, p.Totals, p.tolerance()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Preparer) crosswalk(ctx context.Context, acs, pums census.Tables, abbrs []string) (*crosswalk.Result, error) {
	var in crosswalk.Inputs
	in.States = abbrs
	for _, l := range []struct {
		level tiger.Level
		dst   **tiger.Layer
	}{{tiger.PUMA, &in.PUMA}, {tiger.BG, &in.BG}, {tiger.Tract, &in.Tract}} {
		layer, err := p.Tiger.Fetch(ctx, l.level, abbrs)
		if err != nil {
			return nil, err
		}
		*l.dst = layer
	}

	res, err := crosswalk.Build(in)
	if err != nil {
		return nil, err
	}
	if err := res.Reconcile(reconcileSources(acs, pums, p.Catalog)); err != nil {
		return nil, err
	}
	if err := res.Check(); err != nil {
		return nil, err
	}
	return res, nil
}

// reconcileSources lists the ACS tables of crosswalk levels followed by the
// PUMS households as the PUMA source.
func reconcileSources(acs, pums census.Tables, cat *census.Catalog) []crosswalk.Source {
	var out []crosswalk.Source
	var geos []string
	if cat != nil {
		geos = cat.Geographies
	}
	for _, geo := range geos {
		t, ok := acs[geo]
		if !ok || geo == geoid.State || geo == geoid.Region || !contains(crosswalk.Columns, geo) {
			continue
		}
		out = append(out, crosswalk.Source{Geography: geo, Table: t})
	}
	if hh, ok := pums[census.Households]; ok {
		out = append(out, crosswalk.Source{Geography: geoid.PUMA, Table: hh})
	}
	return out
}

func (p *Preparer) tolerance() float64 {
	if p.Tolerance > 0 {
		return p.Tolerance
	}
	return DefaultTolerance
}

func writeTables(files map[string]*table.Table) error {
	for path, t := range files {
		if err := table.WriteCSVFile(path, t); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
