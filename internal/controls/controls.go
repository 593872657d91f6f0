// Package controls turns raw ACS tables into PopulationSim control totals
// and checks that control groups add up to their household and person
// totals, both in the targets and in the seed sample.
package controls

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Targets holds one control table per geography. Geographies lists them in
// output order: the catalog geographies, then STATE and REGION.
type Targets struct {
	Geographies []string
	Tables      map[string]*table.Table
}

// Table returns the control table of geo or nil.
func (t *Targets) Table(geo string) *table.Table {
	return t.Tables[strings.ToUpper(geo)]
}

// Remainder derives a control as the sum of add columns minus the sum of
// subtract columns, grouped to Geography.
type Remainder struct {
	Name      string   `yaml:"name"`
	Geography string   `yaml:"geography"`
	Add       []string `yaml:"add"`
	Subtract  []string `yaml:"subtract"`
}

// NegativeRemainderError reports a remainder that came out below zero for a
// geography unit.
type NegativeRemainderError struct {
	Name      string
	Geography string
	ID        int64
	Value     float64
}

func (e *NegativeRemainderError) Error() string {
	return fmt.Sprintf("controls: remainder %s is negative (%g) for %s %s",
		e.Name, e.Value, e.Geography, geoid.Default.String(e.Geography, e.ID))
}

// Aggregate sums the raw ACS fields of every catalog geography into control
// fields, derives remainders and builds the STATE and REGION total tables.
// Tables are restricted to abbrs.
func Aggregate(acs census.Tables, cat *census.Catalog, rems []Remainder, abbrs []string) (*Targets, error) {
	log := zap.L().With(zap.String("component", "controls"))

	fips, err := states.FIPSInts(abbrs)
	if err != nil {
		return nil, eris.Wrap(err, "controls: aggregate")
	}

	out := &Targets{Tables: make(map[string]*table.Table)}
	var stateTotals []*table.Table
	var regionCols []*table.Column

	for _, geo := range cat.Geographies {
		raw, ok := acs[geo]
		if !ok {
			return nil, eris.Errorf("controls: no ACS table for %s", geo)
		}
		t, err := prepareTable(raw, geo, fips)
		if err != nil {
			return nil, err
		}

		aggs := cat.ControlsFor(geo)
		names := make([]string, 0, len(aggs))
		isControl := make(map[string]bool, len(aggs))
		for _, a := range aggs {
			isControl[strings.ToUpper(a.Control)] = true
		}
		var raws []string
		for _, a := range aggs {
			col, fields, err := sumFields(t, strings.ToUpper(a.Control), a.Fields)
			if err != nil {
				return nil, eris.Wrapf(err, "controls: %s %s", geo, a.Control)
			}
			if err := t.Set(col); err != nil {
				return nil, err
			}
			names = append(names, col.Name())
			for _, f := range fields {
				if !isControl[f] {
					raws = append(raws, f)
				}
			}
		}
		t.Drop(raws...)

		for _, n := range names {
			regionCols = append(regionCols, totalColumn(t.Col(n)))
		}
		byState, err := table.GroupSum(t, []string{geoid.State}, names)
		if err != nil {
			return nil, eris.Wrapf(err, "controls: %s state totals", geo)
		}
		stateTotals = append(stateTotals, byState)

		out.Tables[geo] = t
		out.Geographies = append(out.Geographies, geo)
		log.Debug("aggregated controls", zap.String("geography", geo), zap.Int("rows", t.Len()), zap.Int("controls", len(names)))
	}

	for _, r := range rems {
		if err := applyRemainder(out, r); err != nil {
			return nil, err
		}
	}

	stateTable, err := buildStateTable(fips, stateTotals)
	if err != nil {
		return nil, err
	}
	if existing, ok := out.Tables[geoid.State]; ok {
		stateTable, err = mergeColumns(existing, stateTable, geoid.State)
		if err != nil {
			return nil, err
		}
	} else {
		out.Geographies = append(out.Geographies, geoid.State)
	}
	out.Tables[geoid.State] = stateTable

	region, err := table.New(append([]*table.Column{table.Ints(geoid.Region, 1)}, regionCols...)...)
	if err != nil {
		return nil, eris.Wrap(err, "controls: region table")
	}
	out.Tables[geoid.Region] = region
	out.Geographies = append(out.Geographies, geoid.Region)

	for _, geo := range out.Geographies {
		t := out.Tables[geo]
		if geo != geoid.Region {
			if err := t.Set(fill(geoid.Region, t.Len(), 1)); err != nil {
				return nil, err
			}
		}
		if err := requireUnique(t, geo); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// prepareTable normalizes and formats a raw ACS table and keeps the rows of
// the requested states.
func prepareTable(raw *table.Table, geo string, fips map[int64]bool) (*table.Table, error) {
	t := raw.Clone()
	if err := geoid.NormalizeColumns(t); err != nil {
		return nil, err
	}
	if !t.Has(geoid.State, geo) {
		return nil, eris.Errorf("controls: %s table lacks %s or %s column", geo, geoid.State, geo)
	}
	if err := geoid.Default.Format(t); err != nil {
		return nil, eris.Wrapf(err, "controls: format %s", geo)
	}
	st := t.Col(geoid.State)
	return t.Filter(func(i int) bool { return fips[st.Int(i)] }), nil
}

// sumFields adds the raw fields row-wise into a column named control. The
// column stays integral when every field is.
func sumFields(t *table.Table, control string, fields []string) (*table.Column, []string, error) {
	names := make([]string, len(fields))
	allInt := true
	for i, f := range fields {
		names[i] = strings.ToUpper(f)
		c, err := t.Column(names[i])
		if err != nil {
			return nil, nil, err
		}
		if c.Kind() != table.Int {
			allInt = false
		}
	}
	sums, err := t.RowSums(names...)
	if err != nil {
		return nil, nil, err
	}
	if allInt {
		ints := make([]int64, len(sums))
		for i, v := range sums {
			ints[i] = int64(v)
		}
		return table.Ints(control, ints...), names, nil
	}
	return table.Floats(control, sums...), names, nil
}

// totalColumn returns a one-row column holding the sum of c.
func totalColumn(c *table.Column) *table.Column {
	if c.Kind() == table.Int {
		return table.Ints(c.Name(), int64(c.Sum()))
	}
	return table.Floats(c.Name(), c.Sum())
}

func fill(name string, n int, v int64) *table.Column {
	c := table.NewColumn(name, table.Int, n)
	for i := 0; i < n; i++ {
		c.SetInt(i, v)
	}
	return c
}

// buildStateTable joins the per-geography state totals onto the requested
// states in FIPS order.
func buildStateTable(fips map[int64]bool, totals []*table.Table) (*table.Table, error) {
	ids := make([]int64, 0, len(fips))
	for f := range fips {
		ids = append(ids, f)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := table.MustNew(table.Ints(geoid.State, ids...))
	for _, t := range totals {
		var err error
		if out, err = table.LeftJoin(out, t, geoid.State); err != nil {
			return nil, eris.Wrap(err, "controls: state table")
		}
	}
	return out, nil
}

// mergeColumns adds the columns of extra that base lacks, matched on key.
func mergeColumns(base, extra *table.Table, key string) (*table.Table, error) {
	keep := []string{key}
	for _, n := range extra.Names() {
		if !base.Has(n) {
			keep = append(keep, n)
		}
	}
	sel, err := extra.Select(keep...)
	if err != nil {
		return nil, err
	}
	if len(keep) == 1 {
		return base, nil
	}
	out, err := table.LeftJoin(base, sel, key)
	return out, eris.Wrap(err, "controls: merge state totals")
}

// applyRemainder computes r and merges it into the table of its geography.
// Units missing from either side are dropped from that table.
func applyRemainder(t *Targets, r Remainder) error {
	name := strings.ToUpper(r.Name)
	geo := strings.ToUpper(r.Geography)
	if name == "" || len(r.Add) == 0 {
		return eris.Errorf("controls: remainder %q needs a name and add columns", r.Name)
	}
	target, ok := t.Tables[geo]
	if !ok {
		return eris.Errorf("controls: remainder %s: no %s table", name, geo)
	}

	add, addInt, err := groupedTotals(t, name, geo, r.Add)
	if err != nil {
		return err
	}
	sub := map[int64]float64{}
	subInt := true
	if len(r.Subtract) > 0 {
		if sub, subInt, err = groupedTotals(t, name, geo, r.Subtract); err != nil {
			return err
		}
	}

	ids := make([]int64, 0, len(add))
	for id := range add {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rem := make(map[int64]float64, len(ids))
	for _, id := range ids {
		s, ok := sub[id]
		if !ok && len(r.Subtract) > 0 {
			continue
		}
		v := add[id] - s
		if v < 0 {
			return &NegativeRemainderError{Name: name, Geography: geo, ID: id, Value: v}
		}
		rem[id] = v
	}

	idCol := target.Col(geo)
	kept := target.Filter(func(i int) bool {
		_, ok := rem[idCol.Int(i)]
		return ok
	})
	if dropped := target.Len() - kept.Len(); dropped > 0 {
		zap.L().Warn("controls: remainder dropped units without data",
			zap.String("remainder", name), zap.String("geography", geo), zap.Int("dropped", dropped))
	}

	ids2 := kept.Col(geo)
	var col *table.Column
	if addInt && subInt {
		col = table.NewColumn(name, table.Int, kept.Len())
		for i := 0; i < kept.Len(); i++ {
			col.SetInt(i, int64(rem[ids2.Int(i)]))
		}
	} else {
		col = table.NewColumn(name, table.Float, kept.Len())
		for i := 0; i < kept.Len(); i++ {
			col.SetFloat(i, rem[ids2.Int(i)])
		}
	}
	if err := kept.Set(col); err != nil {
		return err
	}
	t.Tables[geo] = kept
	return nil
}

// groupedTotals finds the last table holding every column, checks that geo
// is part of its structure and sums the columns per geo unit.
func groupedTotals(t *Targets, name, geo string, cols []string) (map[int64]float64, bool, error) {
	upper := make([]string, len(cols))
	for i, c := range cols {
		upper[i] = strings.ToUpper(c)
	}
	var src string
	for _, g := range t.Geographies {
		if t.Tables[g].Has(upper...) {
			src = g
		}
	}
	if src == "" {
		return nil, false, eris.Errorf("controls: remainder %s: no table has all of %v", name, upper)
	}
	lvl, ok := geoid.Default.Level(src)
	if !ok || !contains(lvl.Structure, geo) {
		return nil, false, eris.Errorf("controls: remainder %s: %s table cannot be grouped to %s", name, src, geo)
	}

	data := t.Tables[src]
	allInt := true
	for _, c := range upper {
		if data.Col(c).Kind() != table.Int {
			allInt = false
		}
	}
	sums, err := data.RowSums(upper...)
	if err != nil {
		return nil, false, err
	}
	// geoid columns are already formatted, so the parent id is a truncation
	key := geoid.Default.Width(src) - geoid.Default.Width(geo)
	ids := data.Col(src)
	out := make(map[int64]float64)
	for i, v := range sums {
		out[ids.Int(i)/pow10(key)] += v
	}
	return out, allInt, nil
}

// requireUnique fails when the geography id column of t repeats a value.
func requireUnique(t *table.Table, geo string) error {
	c, err := t.Column(geo)
	if err != nil {
		return eris.Wrapf(err, "controls: %s table", geo)
	}
	seen := make(map[int64]bool, c.Len())
	dups := 0
	for i := 0; i < c.Len(); i++ {
		if seen[c.Int(i)] {
			dups++
		}
		seen[c.Int(i)] = true
	}
	if dups > 0 {
		return eris.Errorf("controls: %s table has %d duplicate ids", geo, dups)
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

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
