package crosswalk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
	"github.com/RSGInc/bts-populationsim/internal/table"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

func acsBG() *table.Table {
	return table.MustNew(
		table.Strings("NAME", "a", "b", "c", "d", "e", "f"),
		table.Strings("state", "06", "06", "06", "06", "06", "41"),
		table.Strings("county", "001", "001", "001", "001", "001", "001"),
		table.Strings("tract", "000100", "000100", "000200", "000200", "000300", "000100"),
		table.Strings("block group", "1", "2", "1", "2", "1", "1"),
		table.Ints("B01001_001E", 10, 0, 5, 7, 3, 9),
		table.Ints("B11001_001E", 4, 0, 2, 3, 1, 4),
	)
}

func acsTract() *table.Table {
	return table.MustNew(
		table.Strings("state", "06", "06", "06"),
		table.Strings("county", "001", "001", "001"),
		table.Strings("tract", "000100", "000200", "000300"),
		table.Ints("B01001_001E", 10, 12, 3),
	)
}

func pumsHH() *table.Table {
	return table.MustNew(
		table.Strings("SERIALNO", "h1", "h2"),
		table.Ints("ST", 6, 6),
		table.Ints("PUMA", 101, 102),
		table.Ints("WGTP", 20, 30),
	)
}

func TestReconcile(t *testing.T) {
	res, err := Build(testInputs())
	require.NoError(t, err)

	err = res.Reconcile([]Source{
		{Geography: geoid.BG, Table: acsBG()},
		{Geography: geoid.Tract, Table: acsTract()},
		{Geography: geoid.PUMA, Table: pumsHH()},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Table.Len())
	assert.Equal(t, 1, res.Stats.RemovedNoData[geoid.BG])
	assert.Equal(t, 0, res.Stats.RemovedNoData[geoid.Tract])
	assert.Equal(t, DedupeStats{Resolved: 1}, res.Stats.Duplicates[geoid.Tract])

	// the split tract follows its own centroid
	assert.Equal(t, int64(6102), pumaOf(t, res.Table, geoid.BG, 60010002001))
	assert.Equal(t, int64(6102), pumaOf(t, res.Table, geoid.BG, 60010002002))
	require.NoError(t, res.Check())
}

func TestReconcile_RemovesUnitsMissingFromSource(t *testing.T) {
	res, err := Build(testInputs())
	require.NoError(t, err)

	hh := table.MustNew(table.Strings("SERIALNO", "h1"), table.Ints("ST", 6), table.Ints("PUMA", 101), table.Ints("WGTP", 5))
	require.NoError(t, res.Reconcile([]Source{{Geography: geoid.PUMA, Table: hh}}))

	pumaCol := res.Table.Col(geoid.PUMA)
	for i := 0; i < res.Table.Len(); i++ {
		assert.Equal(t, int64(6101), pumaCol.Int(i))
	}
	require.NoError(t, res.Check())
}

func TestReconcile_UnknownGeography(t *testing.T) {
	res, err := Build(testInputs())
	require.NoError(t, err)
	err = res.Reconcile([]Source{{Geography: "ZCTA", Table: pumsHH()}})
	require.Error(t, err)
}

func TestReconcile_DropsDuplicateBeyondThreshold(t *testing.T) {
	in := Inputs{
		States: []string{"CA"},
		PUMA: layer(tiger.PUMA,
			pumaFeature("06", "00101", rect(-120, 37, -119.5, 38)),
			pumaFeature("06", "00102", rect(-119.4, 37, -119, 38)),
		),
		Tract: layer(tiger.Tract,
			tractFeature("06", "001", "000100", rect(-119.6, 37.1, -119.3, 37.5)),
		),
		BG: layer(tiger.BG,
			bgFeature("06", "001", "000100", "1", rect(-119.6, 37.1, -119.52, 37.5)),
			bgFeature("06", "001", "000100", "2", rect(-119.38, 37.1, -119.3, 37.5)),
		),
	}
	res, err := Build(in)
	require.NoError(t, err)
	require.Equal(t, 2, res.Table.Len())
	assert.Equal(t, 1, res.Stats.Tract.OrphansDropped)

	require.NoError(t, res.Reconcile(nil))
	assert.Equal(t, 0, res.Table.Len())
	assert.Equal(t, DedupeStats{Dropped: 1}, res.Stats.Duplicates[geoid.Tract])
}

func TestCheck_DetectsSplitTract(t *testing.T) {
	res, err := Build(testInputs())
	require.NoError(t, err)
	require.Error(t, res.Check())
}
