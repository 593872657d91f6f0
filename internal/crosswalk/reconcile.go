package crosswalk

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Source is a raw data table of one geography checked against the
// crosswalk. PUMS households are passed as geography PUMA.
type Source struct {
	Geography string
	Table     *table.Table
}

// Reconcile removes crosswalk units without observations in the sources,
// then resolves units that map to more than one PUMA. Sources are processed
// in order; block groups and tracts are de-duplicated even when no source
// names them.
func (r *Result) Reconcile(sources []Source) error {
	done := make(map[string]bool)
	for _, src := range sources {
		if err := r.reconcile(src); err != nil {
			return err
		}
		done[src.Geography] = true
	}
	for _, geo := range []string{geoid.Tract, geoid.BG} {
		if done[geo] {
			continue
		}
		if err := r.dedupe(geo); err != nil {
			return err
		}
	}
	return nil
}

func (r *Result) reconcile(src Source) error {
	geo := src.Geography
	if !r.Table.Has(geo) {
		return eris.Errorf("crosswalk: %s is not a crosswalk column", geo)
	}
	present, err := r.observed(src)
	if err != nil {
		return err
	}

	col := r.Table.Col(geo)
	before := r.Table.Len()
	r.Table = r.Table.Filter(func(i int) bool { return present[col.Int(i)] })
	removed := before - r.Table.Len()
	r.Stats.RemovedNoData[geo] += removed
	r.log.Info("removed units without data",
		zap.String("geo", geo),
		zap.Int("removed", removed),
		zap.Int("remaining", r.Table.Len()),
	)

	if geo == geoid.PUMA {
		return nil
	}
	return r.dedupe(geo)
}

// observed returns the in-scope units of src with a non-zero row.
func (r *Result) observed(src Source) (map[int64]bool, error) {
	t := src.Table.Clone()
	if err := geoid.NormalizeColumns(t); err != nil {
		return nil, eris.Wrapf(err, "crosswalk: %s source", src.Geography)
	}
	if err := geoid.Default.Format(t); err != nil {
		return nil, eris.Wrapf(err, "crosswalk: %s source", src.Geography)
	}
	geoCol, err := t.Column(src.Geography)
	if err != nil {
		return nil, eris.Wrapf(err, "crosswalk: %s source", src.Geography)
	}
	stateCol, err := t.Column(geoid.State)
	if err != nil {
		return nil, eris.Wrapf(err, "crosswalk: %s source", src.Geography)
	}

	skip := append(geoid.Default.Levels(), geoid.Region)
	sums, err := t.RowSums(t.NumericNames(skip...)...)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, t.Len())
	for i := 0; i < t.Len(); i++ {
		if !r.fips[stateCol.Int(i)] || sums[i] == 0 {
			continue
		}
		present[geoCol.Int(i)] = true
	}
	return present, nil
}

// dedupe resolves every unit of geo mapped to several PUMAs to the nearest
// PUMA of its own state, or drops it when that PUMA is beyond MaxDistance.
func (r *Result) dedupe(geo string) error {
	geoCol, pumaCol := r.Table.Col(geo), r.Table.Col(geoid.PUMA)
	seen := make(map[int64]map[int64]bool)
	for i := 0; i < r.Table.Len(); i++ {
		id := geoCol.Int(i)
		if seen[id] == nil {
			seen[id] = make(map[int64]bool, 1)
		}
		seen[id][pumaCol.Int(i)] = true
	}
	var dupes []int64
	for id, ps := range seen {
		if len(ps) > 1 {
			dupes = append(dupes, id)
		}
	}
	if len(dupes) == 0 {
		return nil
	}
	sort.Slice(dupes, func(i, j int) bool { return dupes[i] < dupes[j] })

	units, ok := r.units[geo]
	if !ok {
		r.log.Warn("no centroids to de-duplicate geography", zap.String("geo", geo), zap.Int("units", len(dupes)))
		return nil
	}
	r.log.Info("de-duplicating by distance", zap.String("geo", geo), zap.Int("units", len(dupes)))

	set := make(map[int64]int64, len(dupes))
	drop := make(map[int64]bool)
	st := r.Stats.Duplicates[geo]
	for _, id := range dupes {
		u := units[id]
		if u == nil {
			drop[id] = true
			st.Dropped++
			continue
		}
		p, d, ok := r.nearestInState(u)
		if !ok || !WithinThreshold(d) {
			drop[id] = true
			st.Dropped++
			r.log.Debug("dropping duplicate beyond 1km", zap.String("geo", geo), zap.String("geoid", geoid.Default.String(geo, id)))
			continue
		}
		set[id] = p.id
		st.Resolved++
	}
	r.Stats.Duplicates[geo] = st

	r.Table = r.Table.Filter(func(i int) bool { return !drop[geoCol.Int(i)] })
	geoCol, pumaCol = r.Table.Col(geo), r.Table.Col(geoid.PUMA)
	for i := 0; i < r.Table.Len(); i++ {
		if p, ok := set[geoCol.Int(i)]; ok {
			pumaCol.SetInt(i, p)
		}
	}
	return nil
}

// Check verifies that every block group appears once and every tract maps
// to a single PUMA.
func (r *Result) Check() error {
	bg := r.Table.Col(geoid.BG)
	seen := make(map[int64]bool, r.Table.Len())
	for i := 0; i < r.Table.Len(); i++ {
		if seen[bg.Int(i)] {
			return eris.Errorf("crosswalk: BG %s appears more than once", geoid.Default.String(geoid.BG, bg.Int(i)))
		}
		seen[bg.Int(i)] = true
	}
	tract, pumaCol := r.Table.Col(geoid.Tract), r.Table.Col(geoid.PUMA)
	tp := make(map[int64]int64)
	for i := 0; i < r.Table.Len(); i++ {
		t, p := tract.Int(i), pumaCol.Int(i)
		if prev, ok := tp[t]; ok && prev != p {
			return eris.Errorf("crosswalk: TRACT %s maps to PUMAs %d and %d", geoid.Default.String(geoid.Tract, t), prev, p)
		}
		tp[t] = p
	}
	return nil
}
