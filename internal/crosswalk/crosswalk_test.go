package crosswalk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/table"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

func rect(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY, []float64{x0, y0, x0, y1, x1, y1, x1, y0, x0, y0}, [][]int{{10}})
}

func pumaFeature(st, ce string, g *geom.MultiPolygon) tiger.Feature {
	return tiger.Feature{
		GeoID: st + ce,
		Attrs: map[string]string{tiger.AttrStateFP: st, tiger.AttrPumaCE: ce},
		Geom:  g,
	}
}

func tractFeature(st, county, tract string, g *geom.MultiPolygon) tiger.Feature {
	return tiger.Feature{
		GeoID: st + county + tract,
		Attrs: map[string]string{tiger.AttrStateFP: st, tiger.AttrCountyFP: county, tiger.AttrTractCE: tract},
		Geom:  g,
	}
}

func bgFeature(st, county, tract, bg string, g *geom.MultiPolygon) tiger.Feature {
	f := tractFeature(st, county, tract, g)
	f.GeoID += bg
	f.Attrs[tiger.AttrBlkGrpCE] = bg
	return f
}

func layer(level tiger.Level, feats ...tiger.Feature) *tiger.Layer {
	return &tiger.Layer{Level: level, SRID: tiger.SRIDNAD83, Features: feats}
}

// testInputs lays out two adjacent California PUMAs with a tract split
// between them, an orphan within 1km and an orphan far away.
func testInputs() Inputs {
	return Inputs{
		States: []string{"CA"},
		PUMA: layer(tiger.PUMA,
			pumaFeature("06", "00101", rect(-120, 37, -119, 38)),
			pumaFeature("06", "00102", rect(-119, 37, -118, 38)),
			pumaFeature("41", "00100", rect(-124, 42, -120, 46)),
		),
		Tract: layer(tiger.Tract,
			tractFeature("06", "001", "000100", rect(-119.9, 37.1, -119.5, 37.5)),
			tractFeature("06", "001", "000200", rect(-119.2, 37.1, -118.6, 37.5)),
			tractFeature("06", "001", "000300", rect(-120.012, 37.6, -120.004, 37.7)),
			tractFeature("06", "001", "000400", rect(-121, 37.5, -120.9, 37.6)),
		),
		BG: layer(tiger.BG,
			bgFeature("06", "001", "000100", "1", rect(-119.9, 37.1, -119.7, 37.5)),
			bgFeature("06", "001", "000100", "2", rect(-119.7, 37.1, -119.5, 37.5)),
			bgFeature("06", "001", "000200", "1", rect(-119.2, 37.1, -119.05, 37.5)),
			bgFeature("06", "001", "000200", "2", rect(-119.05, 37.1, -118.6, 37.5)),
			bgFeature("06", "001", "000300", "1", rect(-120.012, 37.6, -120.004, 37.7)),
			bgFeature("06", "001", "000400", "1", rect(-121, 37.5, -120.9, 37.6)),
			bgFeature("41", "001", "000100", "1", rect(-123, 43, -122, 44)),
		),
	}
}

func pumaOf(t *testing.T, tbl *table.Table, level string, id int64) int64 {
	t.Helper()
	col, p := tbl.Col(level), tbl.Col(geoid.PUMA)
	for i := 0; i < tbl.Len(); i++ {
		if col.Int(i) == id {
			return p.Int(i)
		}
	}
	t.Fatalf("%s %d not in crosswalk", level, id)
	return 0
}

func TestBuild(t *testing.T) {
	res, err := Build(testInputs())
	require.NoError(t, err)

	assert.Equal(t, Columns, res.Table.Names())
	assert.Equal(t, 5, res.Table.Len())
	assert.Equal(t, PassStats{Units: 6, Joined: 4, OrphansResolved: 1, OrphansDropped: 1}, res.Stats.BG)
	assert.Equal(t, PassStats{Units: 4, Joined: 2, OrphansResolved: 1, OrphansDropped: 1}, res.Stats.Tract)

	assert.Equal(t, int64(6101), pumaOf(t, res.Table, geoid.BG, 60010001001))
	assert.Equal(t, int64(6101), pumaOf(t, res.Table, geoid.BG, 60010002001))
	assert.Equal(t, int64(6102), pumaOf(t, res.Table, geoid.BG, 60010002002))
	assert.Equal(t, int64(6101), pumaOf(t, res.Table, geoid.BG, 60010003001))
	assert.Equal(t, int64(6102), pumaOf(t, res.Tracts, geoid.Tract, 6001000200))

	row := 0
	assert.Equal(t, int64(6), res.Table.Col(geoid.State).Int(row))
	assert.Equal(t, int64(6001), res.Table.Col(geoid.County).Int(row))
	assert.Equal(t, int64(6001000100), res.Table.Col(geoid.Tract).Int(row))
	assert.Equal(t, int64(1), res.Table.Col(geoid.Region).Int(row))
}

func TestBuild_CRSMismatch(t *testing.T) {
	in := testInputs()
	in.Tract.SRID = tiger.SRIDWGS84

	_, err := Build(in)
	var crs *CRSMismatchError
	require.True(t, errors.As(err, &crs))
	assert.Equal(t, tiger.SRIDWGS84, crs.Tract)
}

func TestBuild_UnknownState(t *testing.T) {
	in := testInputs()
	in.States = []string{"ZZ"}
	_, err := Build(in)
	require.Error(t, err)
}

func TestBuild_OrphanWithoutStatePUMA(t *testing.T) {
	in := testInputs()
	in.States = []string{"CA", "NV"}
	in.BG.Features = append(in.BG.Features, bgFeature("32", "003", "000100", "1", rect(-115, 36, -114.9, 36.1)))

	res, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.BG.OrphansNoPUMA)
	assert.Equal(t, 5, res.Table.Len())
}

func TestWithinThreshold(t *testing.T) {
	assert.True(t, WithinThreshold(0))
	assert.True(t, WithinThreshold(999/ArcMeters))
	assert.True(t, WithinThreshold(1000/ArcMeters))
	assert.False(t, WithinThreshold(1001/ArcMeters))
}

func TestRegionDistance_Boundary(t *testing.T) {
	r := newRegion(rect(-120, 37, -119, 38))
	at := geom.Coord{-120 - 1000/ArcMeters, 37.5}
	beyond := geom.Coord{-120 - 1001/ArcMeters, 37.5}

	assert.True(t, WithinThreshold(r.distance(at)))
	assert.False(t, WithinThreshold(r.distance(beyond)))
	assert.Zero(t, r.distance(geom.Coord{-119.5, 37.5}))
}

func TestRegionContains_Hole(t *testing.T) {
	mp := geom.NewMultiPolygonFlat(geom.XY, []float64{
		0, 0, 0, 10, 10, 10, 10, 0, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, [][]int{{10, 20}})
	r := newRegion(mp)

	assert.True(t, r.contains(geom.Coord{1, 1}))
	assert.False(t, r.contains(geom.Coord{5, 5}))
	assert.False(t, r.contains(geom.Coord{11, 5}))
	assert.InDelta(t, 1.0, r.distance(geom.Coord{5, 5}), 1e-9)
}

func TestAreaCentroid(t *testing.T) {
	c := areaCentroid(rect(-120, 37, -119, 38))
	assert.InDelta(t, -119.5, c[0], 1e-9)
	// equal-area centroid sits slightly south of the planar midpoint
	assert.Less(t, c[1], 37.5)
	assert.Greater(t, c[1], 37.45)
}
