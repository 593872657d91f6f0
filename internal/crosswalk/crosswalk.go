// Package crosswalk maps census block groups and tracts to the PUMA whose
// survey sample they draw from, using area-weighted centroids, a
// point-in-polygon join and a bounded nearest-PUMA fallback.
package crosswalk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/table"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

// Degrees to meters, and the largest accepted distance to a PUMA.
const (
	ArcMeters   = 111139.0
	MaxDistance = 1000.0
)

// distanceSlack absorbs floating point noise at the threshold, in meters.
const distanceSlack = 1e-3

// WithinThreshold reports whether a distance in degrees is accepted.
func WithinThreshold(degrees float64) bool {
	return degrees*ArcMeters <= MaxDistance+distanceSlack
}

// Columns of the crosswalk table, in output order.
var Columns = []string{geoid.BG, geoid.State, geoid.County, geoid.Tract, geoid.PUMA, geoid.Region}

// Inputs are the boundary layers and the states in scope.
type Inputs struct {
	PUMA   *tiger.Layer
	BG     *tiger.Layer
	Tract  *tiger.Layer
	States []string
}

// CRSMismatchError reports layers in different spatial references.
type CRSMismatchError struct {
	PUMA, BG, Tract int
}

func (e *CRSMismatchError) Error() string {
	return fmt.Sprintf("crosswalk: CRS do not match: PUMA EPSG:%d, BG EPSG:%d, TRACT EPSG:%d", e.PUMA, e.BG, e.Tract)
}

// PassStats summarizes the spatial join of one level.
type PassStats struct {
	Units           int
	Joined          int
	Ambiguous       int // centroids inside more than one PUMA
	OrphansResolved int
	OrphansDropped  int
	OrphansNoPUMA   int // orphans whose state has no PUMA at all
}

// DedupeStats counts units found in more than one PUMA.
type DedupeStats struct {
	Resolved int
	Dropped  int
}

// Stats is the crosswalk report.
type Stats struct {
	BG            PassStats
	Tract         PassStats
	RemovedNoData map[string]int
	Duplicates    map[string]DedupeStats
}

// Result holds the final block group crosswalk and the tract pass kept for
// reporting.
type Result struct {
	Table  *table.Table
	Tracts *table.Table
	Stats  Stats

	fips    map[int64]bool
	units   map[string]map[int64]*unit
	byState map[int64][]*puma
	log     *zap.Logger
}

// unit is a block group or tract reduced to its centroid.
type unit struct {
	id       int64
	state    int64
	parts    map[string]int64
	centroid geom.Coord
}

type puma struct {
	id    int64
	state int64
	region
}

// Build runs the centroid join for block groups and tracts.
func Build(in Inputs) (*Result, error) {
	if in.PUMA == nil || in.BG == nil || in.Tract == nil {
		return nil, eris.New("crosswalk: PUMA, BG and TRACT layers are required")
	}
	if in.PUMA.SRID != in.BG.SRID || in.PUMA.SRID != in.Tract.SRID {
		return nil, &CRSMismatchError{PUMA: in.PUMA.SRID, BG: in.BG.SRID, Tract: in.Tract.SRID}
	}
	fips, err := states.FIPSInts(in.States)
	if err != nil {
		return nil, eris.Wrap(err, "crosswalk")
	}

	r := &Result{
		fips:    fips,
		units:   make(map[string]map[int64]*unit),
		byState: make(map[int64][]*puma),
		log:     zap.L().With(zap.String("component", "crosswalk")),
		Stats: Stats{
			RemovedNoData: make(map[string]int),
			Duplicates:    make(map[string]DedupeStats),
		},
	}

	pumas, err := loadPUMAs(in.PUMA, fips)
	if err != nil {
		return nil, err
	}
	for _, p := range pumas {
		r.byState[p.state] = append(r.byState[p.state], p)
	}

	r.log.Info("extracting centroids",
		zap.Int("pumas", len(pumas)),
		zap.Int("bg", len(in.BG.Features)),
		zap.Int("tract", len(in.Tract.Features)),
	)
	bgs, err := r.loadUnits(in.BG, geoid.BG)
	if err != nil {
		return nil, err
	}
	tracts, err := r.loadUnits(in.Tract, geoid.Tract)
	if err != nil {
		return nil, err
	}

	var bgRows, tractRows []assignment
	bgRows, r.Stats.BG = r.join(geoid.BG, bgs, pumas)
	tractRows, r.Stats.Tract = r.join(geoid.Tract, tracts, pumas)

	if r.Table, err = buildTable(bgRows, Columns); err != nil {
		return nil, err
	}
	tractCols := []string{geoid.Tract, geoid.State, geoid.County, geoid.PUMA, geoid.Region}
	if r.Tracts, err = buildTable(tractRows, tractCols); err != nil {
		return nil, err
	}
	return r, nil
}

func loadPUMAs(l *tiger.Layer, fips map[int64]bool) ([]*puma, error) {
	var out []*puma
	for _, f := range l.Features {
		st, err := attrInt(f, tiger.AttrStateFP)
		if err != nil {
			return nil, err
		}
		if !fips[st] || f.Geom == nil {
			continue
		}
		ce, err := attrInt(f, tiger.AttrPumaCE)
		if err != nil {
			return nil, err
		}
		id, err := geoid.Default.Compose(geoid.PUMA, map[string]int64{geoid.State: st, geoid.PUMA: ce})
		if err != nil {
			return nil, eris.Wrap(err, "crosswalk: PUMA id")
		}
		out = append(out, &puma{id: id, state: st, region: newRegion(f.Geom)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// levelAttrs maps geoid parts to TIGER attributes.
var levelAttrs = map[string][][2]string{
	geoid.BG: {
		{geoid.State, tiger.AttrStateFP},
		{geoid.County, tiger.AttrCountyFP},
		{geoid.Tract, tiger.AttrTractCE},
		{geoid.BG, tiger.AttrBlkGrpCE},
	},
	geoid.Tract: {
		{geoid.State, tiger.AttrStateFP},
		{geoid.County, tiger.AttrCountyFP},
		{geoid.Tract, tiger.AttrTractCE},
	},
}

func (r *Result) loadUnits(l *tiger.Layer, level string) ([]*unit, error) {
	byID := make(map[int64]*unit)
	var out []*unit
	for _, f := range l.Features {
		parts := make(map[string]int64, 4)
		for _, pa := range levelAttrs[level] {
			v, err := attrInt(f, pa[1])
			if err != nil {
				return nil, err
			}
			parts[pa[0]] = v
		}
		if !r.fips[parts[geoid.State]] || f.Geom == nil {
			continue
		}
		id, err := geoid.Default.Compose(level, parts)
		if err != nil {
			return nil, eris.Wrapf(err, "crosswalk: %s id", level)
		}
		if _, dup := byID[id]; dup {
			return nil, eris.Errorf("crosswalk: duplicate %s %s in boundaries", level, geoid.Default.String(level, id))
		}
		u := &unit{id: id, state: parts[geoid.State], parts: parts, centroid: areaCentroid(f.Geom)}
		byID[id] = u
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	r.units[level] = byID
	return out, nil
}

func attrInt(f tiger.Feature, name string) (int64, error) {
	s := strings.TrimSpace(f.Attr(name))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, eris.Errorf("crosswalk: feature %s has invalid %s %q", f.GeoID, name, s)
	}
	return v, nil
}

type assignment struct {
	unit *unit
	puma int64
}

// join assigns each unit to the PUMA containing its centroid, falling back
// to the nearest PUMA of the same state within MaxDistance.
func (r *Result) join(level string, units []*unit, pumas []*puma) ([]assignment, PassStats) {
	st := PassStats{Units: len(units)}
	out := make([]assignment, 0, len(units))
	var orphans []*unit
	for _, u := range units {
		var hit *puma
		for _, p := range pumas {
			if !p.contains(u.centroid) {
				continue
			}
			if hit == nil {
				hit = p
				continue
			}
			st.Ambiguous++
			break
		}
		if hit == nil {
			orphans = append(orphans, u)
			continue
		}
		st.Joined++
		out = append(out, assignment{unit: u, puma: hit.id})
	}

	r.log.Info("joining orphans by distance",
		zap.String("level", level),
		zap.Int("orphans", len(orphans)),
	)
	for _, u := range orphans {
		p, d, ok := r.nearestInState(u)
		switch {
		case !ok:
			st.OrphansNoPUMA++
			r.log.Warn("no PUMA in state for orphan",
				zap.String("level", level),
				zap.String("geoid", geoid.Default.String(level, u.id)),
			)
		case WithinThreshold(d):
			st.OrphansResolved++
			out = append(out, assignment{unit: u, puma: p.id})
		default:
			st.OrphansDropped++
			r.log.Debug("dropping orphan beyond 1km",
				zap.String("level", level),
				zap.String("geoid", geoid.Default.String(level, u.id)),
				zap.Float64("meters", d*ArcMeters),
			)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].unit.id < out[j].unit.id })
	return out, st
}

// nearestInState returns the closest PUMA of the unit's state and its
// distance in degrees.
func (r *Result) nearestInState(u *unit) (*puma, float64, bool) {
	var best *puma
	bestD := 0.0
	for _, p := range r.byState[u.state] {
		d := p.distance(u.centroid)
		if best == nil || d < bestD {
			best, bestD = p, d
		}
	}
	return best, bestD, best != nil
}

func buildTable(rows []assignment, cols []string) (*table.Table, error) {
	out := make([]*table.Column, len(cols))
	for i, name := range cols {
		out[i] = table.NewColumn(name, table.Int, len(rows))
	}
	for row, a := range rows {
		for i, name := range cols {
			var v int64
			var err error
			switch name {
			case geoid.PUMA:
				v = a.puma
			case geoid.Region:
				v = 1
			case geoid.State:
				v = a.unit.state
			default:
				v, err = geoid.Default.Compose(name, a.unit.parts)
			}
			if err != nil {
				return nil, eris.Wrapf(err, "crosswalk: compose %s", name)
			}
			out[i].SetInt(row, v)
		}
	}
	return table.New(out...)
}
