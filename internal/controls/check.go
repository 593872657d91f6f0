package controls

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Seed table names used in controls.csv.
const (
	HouseholdsTable = "households"
	PersonsTable    = "persons"
)

// TotalControls names the targets holding the household and person totals.
type TotalControls struct {
	Households string
	Persons    string
}

// For returns the total target of a seed table.
func (tc TotalControls) For(seedTable string) (string, bool) {
	switch strings.ToLower(seedTable) {
	case HouseholdsTable:
		return tc.Households, tc.Households != ""
	case PersonsTable:
		return tc.Persons, tc.Persons != ""
	}
	return "", false
}

// GroupResult is the outcome of one control group check.
type GroupResult struct {
	Geography string
	SeedTable string
	Group     string
	Fields    []string
	Sum       float64
	Total     float64
}

// RelDiff is |Sum-Total| relative to Total.
func (g GroupResult) RelDiff() float64 {
	d := math.Abs(g.Sum - g.Total)
	if g.Total == 0 {
		if d == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return d / math.Abs(g.Total)
}

func (g GroupResult) String() string {
	where := g.SeedTable
	if g.Geography != "" {
		where = g.Geography + "/" + g.SeedTable
	}
	return fmt.Sprintf("%s group %q %v: sum %g, total %g, diff %.4f%%",
		where, g.Group, g.Fields, g.Sum, g.Total, 100*g.RelDiff())
}

// CheckError lists every control group whose sum misses its total.
type CheckError struct {
	Kind     string
	Failures []GroupResult
}

func (e *CheckError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("controls: %d %s control groups do not match their totals: %s",
		len(e.Failures), e.Kind, strings.Join(parts, "; "))
}

func within(sum, total, tol float64) bool {
	return math.Abs(sum-total) <= tol*math.Abs(total)
}

type groupKey struct {
	geo, seed, group string
}

// groupSpecs groups specs by (geography, seed table, control group) in order
// of first occurrence. Specs without a group are skipped.
func groupSpecs(specs []ControlSpec, byGeo bool) ([]groupKey, map[groupKey][]ControlSpec) {
	var order []groupKey
	groups := make(map[groupKey][]ControlSpec)
	for _, s := range specs {
		if s.ControlGroup == "" {
			continue
		}
		k := groupKey{seed: strings.ToLower(s.SeedTable), group: s.ControlGroup}
		if byGeo {
			k.geo = strings.ToUpper(s.Geography)
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}
	return order, groups
}

// totalField returns the control column of a total target.
func totalField(specs []ControlSpec, target string) string {
	for _, s := range specs {
		if strings.EqualFold(s.Target, target) {
			return strings.ToUpper(s.ControlField)
		}
	}
	return strings.ToUpper(target)
}

// CheckTargets verifies that every control group of the aggregated targets
// sums to the household or person total within a relative tolerance.
func CheckTargets(t *Targets, specs []ControlSpec, totals TotalControls, tol float64) error {
	totalBySeed := make(map[string]float64)
	for _, seed := range []string{HouseholdsTable, PersonsTable} {
		target, ok := totals.For(seed)
		if !ok {
			continue
		}
		field := totalField(specs, target)
		found := false
		for _, geo := range t.Geographies {
			if c := t.Tables[geo].Col(field); c != nil {
				totalBySeed[seed] = c.Sum()
				found = true
				break
			}
		}
		if !found {
			return eris.Errorf("controls: total control %s not found in any target table", field)
		}
	}

	order, groups := groupSpecs(specs, true)
	var failures []GroupResult
	for _, k := range order {
		tbl := t.Table(k.geo)
		if tbl == nil {
			return eris.Errorf("controls: no %s target table for group %s", k.geo, k.group)
		}
		total, ok := totalBySeed[k.seed]
		if !ok {
			return eris.Errorf("controls: no total control for seed table %s", k.seed)
		}
		res := GroupResult{Geography: k.geo, SeedTable: k.seed, Group: k.group, Total: total}
		for _, s := range groups[k] {
			field := strings.ToUpper(s.ControlField)
			c, err := tbl.Column(field)
			if err != nil {
				return eris.Wrapf(err, "controls: group %s", k.group)
			}
			res.Fields = append(res.Fields, field)
			res.Sum += c.Sum()
		}
		if !within(res.Sum, res.Total, tol) {
			failures = append(failures, res)
		}
	}
	if len(failures) > 0 {
		return &CheckError{Kind: "target", Failures: failures}
	}
	zap.L().Info("controls: target groups match totals", zap.Int("groups", len(order)))
	return nil
}

// CheckSeeds runs the same group check over the seed sample. Each target's
// value is its rule summed over the target's seed table.
func CheckSeeds(hh, per *table.Table, specs []ControlSpec, rules Rules, totals TotalControls, tol float64) error {
	seeds := map[string]*table.Table{HouseholdsTable: hh, PersonsTable: per}

	value := func(target, seed string) (float64, error) {
		r, ok := rules[target]
		if !ok {
			return 0, eris.Errorf("controls: no seed rule for target %s", target)
		}
		tbl, ok := seeds[seed]
		if !ok || tbl == nil {
			return 0, eris.Errorf("controls: unknown seed table %s for target %s", seed, target)
		}
		v, err := r.Value(tbl)
		return v, eris.Wrapf(err, "controls: target %s", target)
	}

	totalBySeed := make(map[string]float64)
	for _, seed := range []string{HouseholdsTable, PersonsTable} {
		target, ok := totals.For(seed)
		if !ok {
			continue
		}
		v, err := value(target, seed)
		if err != nil {
			return err
		}
		totalBySeed[seed] = v
	}

	order, groups := groupSpecs(specs, false)
	var failures []GroupResult
	for _, k := range order {
		total, ok := totalBySeed[k.seed]
		if !ok {
			return eris.Errorf("controls: no total control for seed table %s", k.seed)
		}
		res := GroupResult{SeedTable: k.seed, Group: k.group, Total: total}
		for _, s := range groups[k] {
			v, err := value(s.Target, k.seed)
			if err != nil {
				return err
			}
			res.Fields = append(res.Fields, s.Target)
			res.Sum += v
		}
		if !within(res.Sum, res.Total, tol) {
			failures = append(failures, res)
		}
	}
	if len(failures) > 0 {
		return &CheckError{Kind: "seed", Failures: failures}
	}
	zap.L().Info("controls: seed groups match totals", zap.Int("groups", len(order)))
	return nil
}
