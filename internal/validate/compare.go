// Package validate compares synthesized totals against their controls and
// measures how uniformly the synthesizer expanded the seed households.
package validate

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// SummaryID is the geography id column of final_summary files.
const SummaryID = "id"

// Stat is the convergence summary of one control.
type Stat struct {
	ControlName   string
	Geography     string
	Observed      float64
	Predicted     float64
	Difference    float64
	PctDifference float64
	N             int
	PRMSE         float64
	MeanPctDiff   float64
	SDev          float64
}

// CompareControl reads <target>_control and <target>_result from a
// final_summary table. Meta geography summaries repeat ids per seed zone and
// are summed by id first.
func CompareControl(spec controls.ControlSpec, summary *table.Table, meta bool) (Stat, error) {
	ctlName, resName := spec.Target+"_control", spec.Target+"_result"
	sel, err := summary.Select(SummaryID, ctlName, resName)
	if err != nil {
		return Stat{}, eris.Wrapf(err, "validate: %s summary", spec.Geography)
	}
	if meta {
		if sel, err = table.GroupSum(sel, []string{SummaryID}, []string{ctlName, resName}); err != nil {
			return Stat{}, eris.Wrap(err, "validate: group meta summary")
		}
	}

	ctl, res := sel.Col(ctlName), sel.Col(resName)
	control := make([]float64, sel.Len())
	synth := make([]float64, sel.Len())
	pct := make([]float64, sel.Len())
	st := Stat{ControlName: spec.ControlField, Geography: spec.Geography}
	for i := range control {
		control[i], synth[i] = zeroNaN(ctl.Float(i)), zeroNaN(res.Float(i))
		diff := synth[i] - control[i]
		pct[i] = math.NaN()
		if control[i] > 0 {
			pct[i] = diff / control[i] * 100
			st.N++
		}
		st.Observed += control[i]
		st.Predicted += synth[i]
	}
	st.Difference = st.Predicted - st.Observed
	st.PctDifference = math.NaN()
	if st.Observed != 0 {
		st.PctDifference = st.Difference / st.Observed * 100
	}
	st.PRMSE = PRMSE(control, synth)
	st.MeanPctDiff = mean(pct)
	st.SDev = sampleStdDev(pct)
	return st, nil
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// StatsTable lays out stats as the populationsim_stats report.
func StatsTable(stats []Stat) *table.Table {
	n := len(stats)
	names := table.NewColumn("control_name", table.String, n)
	geos := table.NewColumn("geography", table.String, n)
	obs := table.NewColumn("observed", table.Float, n)
	pred := table.NewColumn("predicted", table.Float, n)
	diff := table.NewColumn("difference", table.Float, n)
	pct := table.NewColumn("pct_difference", table.Float, n)
	count := table.NewColumn("N", table.Int, n)
	prmse := table.NewColumn("prmse", table.Float, n)
	mpd := table.NewColumn("mean_pct_diff", table.Float, n)
	sdev := table.NewColumn("sdev", table.Float, n)
	for i, s := range stats {
		_ = names.SetStr(i, s.ControlName)
		_ = geos.SetStr(i, s.Geography)
		obs.SetFloat(i, s.Observed)
		pred.SetFloat(i, s.Predicted)
		diff.SetFloat(i, s.Difference)
		pct.SetFloat(i, s.PctDifference)
		count.SetInt(i, int64(s.N))
		prmse.SetFloat(i, s.PRMSE)
		mpd.SetFloat(i, s.MeanPctDiff)
		sdev.SetFloat(i, s.SDev)
	}
	return table.MustNew(names, geos, obs, pred, diff, pct, count, prmse, mpd, sdev)
}
