// Package seed builds the household and person seed tables of the
// population synthesizer from raw PUMS records.
package seed

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Column names of the seed tables.
const (
	HouseholdID = "hh_id"
	SerialNo    = "SERIALNO"
	NumAdults   = "NP_ADULTS"
	Age         = "AGEP"

	rawState = "ST"
)

// IDStride reserves eight digits of household index under each PUMA.
const IDStride = int64(100_000_000)

// Seeds holds the household and person seed tables.
type Seeds struct {
	Households *table.Table
	Persons    *table.Table
}

// DuplicateIDError reports a household id that occurs more than once.
type DuplicateIDError struct {
	ID    int64
	Count int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("seed: household id %d occurs %d times", e.ID, e.Count)
}

// Build joins the household and person records of abbrs, mints household
// ids and splits the result back into household and person tables.
func Build(hh, per *table.Table, abbrs []string) (*Seeds, error) {
	log := zap.L().With(zap.String("component", "seed"))

	fips, err := states.FIPSInts(abbrs)
	if err != nil {
		return nil, eris.Wrap(err, "seed: build")
	}
	hhSel, err := inStates(hh, fips)
	if err != nil {
		return nil, eris.Wrap(err, "seed: households")
	}
	perSel, err := inStates(per, fips)
	if err != nil {
		return nil, eris.Wrap(err, "seed: persons")
	}

	keys := []string{SerialNo, rawState, geoid.PUMA}
	hhCols := without(hhSel.Names(), rawState)
	perCols := without(perSel.Names(), rawState)

	// non-key person columns that repeat a household column are dropped
	var right []string
	for _, n := range perSel.Names() {
		if contains(keys, n) || !hhSel.Has(n) {
			right = append(right, n)
		}
	}
	perJoin, err := perSel.Select(right...)
	if err != nil {
		return nil, err
	}
	joined, err := table.InnerJoin(hhSel, perJoin, keys...)
	if err != nil {
		return nil, eris.Wrap(err, "seed: join households and persons")
	}
	log.Info("joined PUMS records",
		zap.Int("households", hhSel.Len()), zap.Int("persons", perSel.Len()), zap.Int("joined", joined.Len()))

	if err := joined.Rename(map[string]string{rawState: geoid.State}); err != nil {
		return nil, err
	}
	if err := geoid.Default.Format(joined); err != nil {
		return nil, eris.Wrap(err, "seed: format geoids")
	}
	if err := joined.Set(constant(geoid.Region, joined.Len(), 1)); err != nil {
		return nil, err
	}

	ids, err := householdIDs(joined)
	if err != nil {
		return nil, err
	}
	if err := joined.Set(ids); err != nil {
		return nil, err
	}

	households, err := householdTable(joined, hhCols)
	if err != nil {
		return nil, err
	}
	persons, err := joined.Select(append(append([]string{HouseholdID}, perCols...), geoid.Region, geoid.State)...)
	if err != nil {
		return nil, eris.Wrap(err, "seed: person table")
	}
	persons = persons.Clone()

	adults, err := countAdults(persons, households)
	if err != nil {
		return nil, err
	}
	if err := households.Set(adults); err != nil {
		return nil, err
	}

	if err := CheckUnique(households); err != nil {
		return nil, err
	}
	log.Info("built seeds", zap.Int("households", households.Len()), zap.Int("persons", persons.Len()))
	return &Seeds{Households: households, Persons: persons}, nil
}

func inStates(t *table.Table, fips map[int64]bool) (*table.Table, error) {
	st, err := t.Column(rawState)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(i int) bool { return !st.IsNull(i) && fips[st.Int(i)] }), nil
}

// householdIDs numbers the distinct (SERIALNO, PUMA) pairs from 1 in sorted
// order and prefixes each number with its formatted PUMA.
func householdIDs(t *table.Table) (*table.Column, error) {
	serial, err := t.Column(SerialNo)
	if err != nil {
		return nil, err
	}
	puma := t.Col(geoid.PUMA)

	type key struct {
		serial string
		puma   int64
	}
	seen := make(map[key]bool)
	var distinct []key
	for i := 0; i < t.Len(); i++ {
		k := key{serial.Str(i), puma.Int(i)}
		if !seen[k] {
			seen[k] = true
			distinct = append(distinct, k)
		}
	}
	sort.Slice(distinct, func(a, b int) bool {
		if distinct[a].serial != distinct[b].serial {
			return distinct[a].serial < distinct[b].serial
		}
		return distinct[a].puma < distinct[b].puma
	})
	if int64(len(distinct)) >= IDStride {
		return nil, eris.Errorf("seed: %d households exceed the %d-id index space", len(distinct), IDStride-1)
	}

	index := make(map[key]int64, len(distinct))
	for i, k := range distinct {
		index[k] = int64(i) + 1
	}
	out := table.NewColumn(HouseholdID, table.Int, t.Len())
	for i := 0; i < t.Len(); i++ {
		k := key{serial.Str(i), puma.Int(i)}
		out.SetInt(i, k.puma*IDStride+index[k])
	}
	return out, nil
}

// householdTable keeps the first row of every household, ordered by id.
func householdTable(t *table.Table, hhCols []string) (*table.Table, error) {
	cols := append(append([]string{HouseholdID}, hhCols...), geoid.Region, geoid.State)
	sel, err := t.Select(cols...)
	if err != nil {
		return nil, eris.Wrap(err, "seed: household table")
	}
	first, err := table.Distinct(sel, HouseholdID)
	if err != nil {
		return nil, err
	}
	out, err := table.SortBy(first, HouseholdID)
	return out, eris.Wrap(err, "seed: household table")
}

// countAdults counts persons aged 18 or more per household, zero when none.
func countAdults(persons, households *table.Table) (*table.Column, error) {
	age, err := persons.Column(Age)
	if err != nil {
		return nil, eris.Wrap(err, "seed: adults")
	}
	pid := persons.Col(HouseholdID)
	counts := make(map[int64]int64)
	for i := 0; i < persons.Len(); i++ {
		if !age.IsNull(i) && age.Int(i) >= 18 {
			counts[pid.Int(i)]++
		}
	}
	hid := households.Col(HouseholdID)
	out := table.NewColumn(NumAdults, table.Int, households.Len())
	for i := 0; i < households.Len(); i++ {
		out.SetInt(i, counts[hid.Int(i)])
	}
	return out, nil
}

// CheckUnique fails with a DuplicateIDError when a household id repeats.
func CheckUnique(households *table.Table) error {
	ids, err := households.Column(HouseholdID)
	if err != nil {
		return eris.Wrap(err, "seed: check ids")
	}
	counts := make(map[int64]int, ids.Len())
	for i := 0; i < ids.Len(); i++ {
		counts[ids.Int(i)]++
	}
	for i := 0; i < ids.Len(); i++ {
		if n := counts[ids.Int(i)]; n > 1 {
			return &DuplicateIDError{ID: ids.Int(i), Count: n}
		}
	}
	return nil
}

func constant(name string, n int, v int64) *table.Column {
	c := table.NewColumn(name, table.Int, n)
	for i := 0; i < n; i++ {
		c.SetInt(i, v)
	}
	return c
}

func without(names []string, drop string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
