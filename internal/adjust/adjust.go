// Package adjust rescales 5-year PUMS seed weights and control totals to a
// 1-year vintage using the ratio of summed sample weights.
package adjust

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Weight columns per seed table.
const (
	HouseholdWeight = "WGTP"
	PersonWeight    = "PWGTP"
)

// weightOf maps seed tables to their PUMS level and weight column.
var weightOf = map[string]struct{ level, column string }{
	controls.HouseholdsTable: {census.Households, HouseholdWeight},
	controls.PersonsTable:    {census.Persons, PersonWeight},
}

// WeightSchemas are the PUMS fields needed to compute factors.
var WeightSchemas = map[string]table.Schema{
	census.Households: {
		{Name: "SERIALNO", Kind: table.String, Fill: table.Reject},
		{Name: "PUMA", Kind: table.Int, Fill: table.Reject},
		{Name: "ST", Kind: table.Int, Fill: table.Reject},
		{Name: HouseholdWeight, Kind: table.Int, Fill: table.FillWith("0")},
	},
	census.Persons: {
		{Name: "SERIALNO", Kind: table.String, Fill: table.Reject},
		{Name: "SPORDER", Kind: table.Int, Fill: table.Reject},
		{Name: "PUMA", Kind: table.Int, Fill: table.Reject},
		{Name: "ST", Kind: table.Int, Fill: table.Reject},
		{Name: PersonWeight, Kind: table.Int, Fill: table.FillWith("0")},
	},
}

// Factors are 1-year over 5-year weight ratios per seed table.
type Factors struct {
	PUMA   map[string]map[int64]float64
	State  map[string]map[int64]float64
	Region map[string]float64
}

// Scale returns the factors as control scaling input.
func (f *Factors) Scale() controls.Scale {
	return controls.Scale{PUMA: f.PUMA, State: f.State, Region: f.Region}
}

// FetchWeights requests the weight tables of abbrs from one vintage.
func FetchWeights(ctx context.Context, src census.StateFetcher, abbrs []string) (census.Tables, error) {
	out := make(census.Tables, len(WeightSchemas))
	for _, level := range census.PUMSLevels {
		t, err := src.FetchStates(ctx, level, WeightSchemas[level], abbrs)
		if err != nil {
			return nil, err
		}
		out[level] = t
	}
	return out, nil
}

type sums struct {
	puma   map[int64]float64
	state  map[int64]float64
	region float64
}

func weightSums(raw *table.Table, weight string) (*sums, error) {
	t := raw.Clone()
	if err := geoid.NormalizeColumns(t); err != nil {
		return nil, err
	}
	if err := geoid.Default.Format(t); err != nil {
		return nil, err
	}
	for _, c := range []string{geoid.State, geoid.PUMA, weight} {
		if !t.Has(c) {
			return nil, eris.Errorf("adjust: weight table lacks %s", c)
		}
	}
	s := &sums{puma: make(map[int64]float64), state: make(map[int64]float64)}
	st, puma, w := t.Col(geoid.State), t.Col(geoid.PUMA), t.Col(weight)
	for i := 0; i < t.Len(); i++ {
		if w.IsNull(i) {
			continue
		}
		v := w.Float(i)
		s.puma[puma.Int(i)] += v
		s.state[st.Int(i)] += v
		s.region += v
	}
	return s, nil
}

// ComputeFactors divides 1-year by 5-year weight sums. Every PUMA of the
// 5-year data gets a factor; one absent from the 1-year data falls back to
// its state factor.
func ComputeFactors(oneYear, fiveYear census.Tables) (*Factors, error) {
	log := zap.L().With(zap.String("component", "adjust"))
	f := &Factors{
		PUMA:   make(map[string]map[int64]float64),
		State:  make(map[string]map[int64]float64),
		Region: make(map[string]float64),
	}

	seeds := make([]string, 0, len(weightOf))
	for s := range weightOf {
		seeds = append(seeds, s)
	}
	sort.Strings(seeds)

	for _, seedTable := range seeds {
		w := weightOf[seedTable]
		one, ok1 := oneYear[w.level]
		five, ok5 := fiveYear[w.level]
		if !ok1 || !ok5 {
			return nil, eris.Errorf("adjust: missing %s weights", w.level)
		}
		s1, err := weightSums(one, w.column)
		if err != nil {
			return nil, eris.Wrap(err, "adjust: 1-year")
		}
		s5, err := weightSums(five, w.column)
		if err != nil {
			return nil, eris.Wrap(err, "adjust: 5-year")
		}

		states := make(map[int64]float64, len(s5.state))
		for st, v5 := range s5.state {
			r, err := ratio(s1.state[st], v5)
			if err != nil {
				return nil, eris.Wrapf(err, "adjust: %s state %d", seedTable, st)
			}
			states[st] = r
		}
		pumas := make(map[int64]float64, len(s5.puma))
		for p, v5 := range s5.puma {
			v1, ok := s1.puma[p]
			if !ok {
				st := p / 1000
				log.Warn("PUMA missing from 1-year weights, using state factor",
					zap.String("seed_table", seedTable),
					zap.String("puma", geoid.Default.String(geoid.PUMA, p)),
				)
				pumas[p] = states[st]
				continue
			}
			r, err := ratio(v1, v5)
			if err != nil {
				return nil, eris.Wrapf(err, "adjust: %s PUMA %d", seedTable, p)
			}
			pumas[p] = r
		}
		region, err := ratio(s1.region, s5.region)
		if err != nil {
			return nil, eris.Wrapf(err, "adjust: %s region", seedTable)
		}
		f.PUMA[seedTable], f.State[seedTable], f.Region[seedTable] = pumas, states, region
		log.Info("computed factors", zap.String("seed_table", seedTable), zap.Int("pumas", len(pumas)), zap.Float64("region", region))
	}
	return f, nil
}

func ratio(a, b float64) (float64, error) {
	if b == 0 {
		return 0, eris.New("zero 5-year weight")
	}
	return a / b, nil
}

// ApplySeeds multiplies seed weights by the PUMA factor of each record. The
// weights become floating point.
func ApplySeeds(hh, per *table.Table, f *Factors) error {
	for _, s := range []struct {
		t    *table.Table
		seed string
	}{{hh, controls.HouseholdsTable}, {per, controls.PersonsTable}} {
		w := weightOf[s.seed]
		src, err := s.t.Column(w.column)
		if err != nil {
			return eris.Wrapf(err, "adjust: %s", s.seed)
		}
		puma, err := s.t.Column(geoid.PUMA)
		if err != nil {
			return eris.Wrapf(err, "adjust: %s", s.seed)
		}
		dst := table.NewColumn(w.column, table.Float, s.t.Len())
		for i := 0; i < s.t.Len(); i++ {
			if src.IsNull(i) {
				dst.SetNull(i)
				continue
			}
			fac, ok := f.PUMA[s.seed][puma.Int(i)]
			if !ok || math.IsNaN(fac) {
				return eris.Errorf("adjust: no %s factor for PUMA %s", s.seed, geoid.Default.String(geoid.PUMA, puma.Int(i)))
			}
			dst.SetFloat(i, src.Float(i)*fac)
		}
		if err := s.t.Set(dst); err != nil {
			return err
		}
	}
	return nil
}
