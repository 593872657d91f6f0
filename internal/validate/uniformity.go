package validate

import (
	"context"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/seed"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// ExpandedWeights counts the rows of final_expanded_household_ids per
// household id. The file is streamed since it holds one row per synthetic
// household.
func ExpandedWeights(ctx context.Context, r io.Reader) (map[int64]int64, error) {
	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{HasHeader: true, HeaderCh: headerCh, TrimSpace: true})

	weights := make(map[int64]int64)
	col := -1
	for row := range rows {
		if col < 0 {
			header := <-headerCh
			for i, h := range header {
				if h == seed.HouseholdID {
					col = i
				}
			}
			if col < 0 {
				return nil, drainErr(rows, errs, eris.Errorf("validate: expanded ids lack %s column", seed.HouseholdID))
			}
		}
		if col >= len(row) {
			return nil, drainErr(rows, errs, eris.Errorf("validate: short expanded ids row %v", row))
		}
		id, err := strconv.ParseInt(row[col], 10, 64)
		if err != nil {
			return nil, drainErr(rows, errs, eris.Wrapf(err, "validate: bad household id %q", row[col]))
		}
		weights[id]++
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "validate: read expanded ids")
	}
	return weights, nil
}

// drainErr empties the row channel so the reader goroutine can exit.
func drainErr(rows <-chan []string, errs <-chan error, err error) error {
	for range rows {
	}
	<-errs
	return err
}

// Uniformity compares, per unit of geo, the final weights assigned to seed
// households with their sample weights. The expansion factor of a household
// is FINALWEIGHT/WGTP.
func Uniformity(seedHH *table.Table, weights map[int64]int64, geo string) (*table.Table, error) {
	ids, err := seedHH.Column(seed.HouseholdID)
	if err != nil {
		return nil, eris.Wrap(err, "validate: uniformity")
	}
	wgtp, err := seedHH.Column("WGTP")
	if err != nil {
		return nil, eris.Wrap(err, "validate: uniformity")
	}
	units, err := seedHH.Column(geo)
	if err != nil {
		return nil, eris.Wrap(err, "validate: uniformity")
	}

	type group struct {
		w, z float64
		efs  []float64
	}
	groups := make(map[int64]*group)
	for i := 0; i < seedHH.Len(); i++ {
		u := units.Int(i)
		g, ok := groups[u]
		if !ok {
			g = &group{}
			groups[u] = g
		}
		final := float64(weights[ids.Int(i)])
		w := wgtp.Float(i)
		g.w += w
		g.z += final
		g.efs = append(g.efs, final/w)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	n := len(keys)
	cols := []*table.Column{
		table.NewColumn(geo, table.Int, n),
		table.NewColumn("W", table.Float, n),
		table.NewColumn("Z", table.Float, n),
		table.NewColumn("N", table.Int, n),
		table.NewColumn("EXP", table.Float, n),
		table.NewColumn("EXP_MIN", table.Float, n),
		table.NewColumn("EXP_MAX", table.Float, n),
		table.NewColumn("NRMSE", table.Float, n),
	}
	for i, k := range keys {
		g := groups[k]
		exp := g.w / g.z
		lo, hi := extremes(g.efs)
		avg := make([]float64, len(g.efs))
		for j := range avg {
			avg[j] = exp
		}
		cols[0].SetInt(i, k)
		cols[1].SetFloat(i, g.w)
		cols[2].SetFloat(i, g.z)
		cols[3].SetInt(i, int64(len(g.efs)))
		cols[4].SetFloat(i, exp)
		cols[5].SetFloat(i, lo)
		cols[6].SetFloat(i, hi)
		cols[7].SetFloat(i, RMSE(g.efs, avg))
	}
	return table.New(cols...)
}

// extremes returns the NaN-skipping min and max.
func extremes(vals []float64) (float64, float64) {
	lo, hi := math.NaN(), math.NaN()
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(lo) || v < lo {
			lo = v
		}
		if math.IsNaN(hi) || v > hi {
			hi = v
		}
	}
	return lo, hi
}
