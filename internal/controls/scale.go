package controls

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Scale holds multiplicative factors per seed table, keyed by formatted
// PUMA id, by state FIPS and for the whole region.
type Scale struct {
	PUMA   map[string]map[int64]float64
	State  map[string]map[int64]float64
	Region map[string]float64
}

// ScaleTargets multiplies every control column by the factor of its seed
// table and rounds to integers. Small-area tables use the PUMA of each unit
// from the crosswalk, STATE uses state factors and REGION the region factor.
// Columns that no spec names are left alone.
func ScaleTargets(t *Targets, crosswalk *table.Table, specs []ControlSpec, s Scale) error {
	seedOf := make(map[string]string, len(specs))
	for _, sp := range specs {
		seedOf[strings.ToUpper(sp.ControlField)] = strings.ToLower(sp.SeedTable)
	}

	for _, geo := range t.Geographies {
		tbl := t.Tables[geo]
		factor, err := factorLookup(geo, tbl, crosswalk, s)
		if err != nil {
			return err
		}
		for _, name := range tbl.Names() {
			seed, ok := seedOf[name]
			if !ok {
				continue
			}
			src := tbl.Col(name)
			dst := table.NewColumn(name, table.Int, tbl.Len())
			for i := 0; i < tbl.Len(); i++ {
				if src.IsNull(i) {
					dst.SetNull(i)
					continue
				}
				f, err := factor(seed, i)
				if err != nil {
					return eris.Wrapf(err, "controls: scale %s %s", geo, name)
				}
				dst.SetInt(i, int64(math.Round(src.Float(i)*f)))
			}
			if err := tbl.Set(dst); err != nil {
				return err
			}
		}
	}
	return nil
}

type factorFunc func(seed string, row int) (float64, error)

func factorLookup(geo string, tbl, crosswalk *table.Table, s Scale) (factorFunc, error) {
	switch {
	case geo == geoid.Region:
		return func(seed string, _ int) (float64, error) {
			f, ok := s.Region[seed]
			if !ok {
				return 0, eris.Errorf("no region factor for %s", seed)
			}
			return f, nil
		}, nil

	case geo == geoid.State:
		ids := tbl.Col(geoid.State)
		return func(seed string, row int) (float64, error) {
			f, ok := s.State[seed][ids.Int(row)]
			if !ok {
				return 0, eris.Errorf("no %s factor for state %d", seed, ids.Int(row))
			}
			return f, nil
		}, nil
	}

	pumaOf := make(map[int64]int64)
	ids := tbl.Col(geo)
	if geo == geoid.PUMA {
		for i := 0; i < tbl.Len(); i++ {
			pumaOf[ids.Int(i)] = ids.Int(i)
		}
	} else {
		if crosswalk == nil || !crosswalk.Has(geo, geoid.PUMA) {
			return nil, eris.Errorf("controls: scale %s: crosswalk lacks %s", geo, geo)
		}
		units, pumas := crosswalk.Col(geo), crosswalk.Col(geoid.PUMA)
		for i := 0; i < crosswalk.Len(); i++ {
			if _, ok := pumaOf[units.Int(i)]; !ok {
				pumaOf[units.Int(i)] = pumas.Int(i)
			}
		}
	}
	return func(seed string, row int) (float64, error) {
		p, ok := pumaOf[ids.Int(row)]
		if !ok {
			return 0, eris.Errorf("%s %d is not in the crosswalk", geo, ids.Int(row))
		}
		f, ok := s.PUMA[seed][p]
		if !ok {
			return 0, eris.Errorf("no %s factor for PUMA %d", seed, p)
		}
		return f, nil
	}, nil
}
