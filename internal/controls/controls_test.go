package controls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

const testCatalog = `geography,control_field,field,type,group
BG,HH_TOTAL,B11016_001E,int,B11016
BG,HH_SIZE_1,B11016_010E,int,B11016
BG,HH_SIZE_2P,B11016_003E,int,B11016
BG,HH_SIZE_2P,B11016_011E,int,B11016
TRACT,PER_TOTAL,B01001_001E,int,B01001
TRACT,PER_AGE_0_17,B01001_003E,int,B01001
TRACT,PER_AGE_18_64,B01001_004E,int,B01001
TRACT,PER_AGE_65P,B01001_005E,int,B01001
`

func testACS() census.Tables {
	return census.Tables{
		"BG": table.MustNew(
			table.Strings("NAME", "bg1", "bg2", "bg3", "or"),
			table.Strings("state", "06", "06", "06", "41"),
			table.Strings("county", "001", "001", "001", "001"),
			table.Strings("tract", "000100", "000100", "000200", "000100"),
			table.Strings("block group", "1", "2", "1", "1"),
			table.Ints("B11016_001E", 10, 20, 30, 99),
			table.Ints("B11016_010E", 4, 5, 10, 9),
			table.Ints("B11016_003E", 3, 10, 15, 50),
			table.Ints("B11016_011E", 3, 5, 5, 40),
		),
		"TRACT": table.MustNew(
			table.Strings("state", "06", "06"),
			table.Strings("county", "001", "001"),
			table.Strings("tract", "000100", "000200"),
			table.Ints("B01001_001E", 100, 50),
			table.Ints("B01001_003E", 20, 10),
			table.Ints("B01001_004E", 60, 30),
			table.Ints("B01001_005E", 20, 10),
		),
	}
}

func testCat(t *testing.T) *census.Catalog {
	t.Helper()
	cat, err := census.ParseCatalog(strings.NewReader(testCatalog))
	require.NoError(t, err)
	return cat
}

func ints(t *testing.T, tbl *table.Table, name string) []int64 {
	t.Helper()
	c, err := tbl.Column(name)
	require.NoError(t, err)
	out := make([]int64, c.Len())
	for i := range out {
		out[i] = c.Int(i)
	}
	return out
}

func TestAggregate(t *testing.T) {
	targets, err := Aggregate(testACS(), testCat(t), nil, []string{"CA"})
	require.NoError(t, err)

	assert.Equal(t, []string{"BG", "TRACT", "STATE", "REGION"}, targets.Geographies)

	bg := targets.Table("bg")
	require.NotNil(t, bg)
	assert.Equal(t, []string{"NAME", "STATE", "COUNTY", "TRACT", "BG", "HH_TOTAL", "HH_SIZE_1", "HH_SIZE_2P", "REGION"}, bg.Names())
	assert.Equal(t, []int64{60010001001, 60010001002, 60010002001}, ints(t, bg, "BG"))
	assert.Equal(t, []int64{6, 15, 20}, ints(t, bg, "HH_SIZE_2P"))
	assert.Equal(t, []int64{1, 1, 1}, ints(t, bg, "REGION"))
	assert.Equal(t, table.Int, bg.Col("HH_TOTAL").Kind())

	tract := targets.Table("TRACT")
	assert.Equal(t, []int64{6001000100, 6001000200}, ints(t, tract, "TRACT"))
	assert.False(t, tract.Has("B01001_001E"))

	st := targets.Table("STATE")
	assert.Equal(t, []int64{6}, ints(t, st, "STATE"))
	assert.Equal(t, []int64{60}, ints(t, st, "HH_TOTAL"))
	assert.Equal(t, []int64{150}, ints(t, st, "PER_TOTAL"))
	assert.Equal(t, []int64{1}, ints(t, st, "REGION"))

	region := targets.Table("REGION")
	assert.Equal(t, 1, region.Len())
	assert.Equal(t, []int64{19}, ints(t, region, "HH_SIZE_1"))
	assert.Equal(t, []int64{30}, ints(t, region, "PER_AGE_0_17"))
}

func TestAggregate_Remainders(t *testing.T) {
	rems := []Remainder{
		{Name: "per_18p", Geography: "TRACT", Add: []string{"PER_TOTAL"}, Subtract: []string{"PER_AGE_0_17"}},
		{Name: "HH_TRACT_2P", Geography: "TRACT", Add: []string{"HH_TOTAL"}, Subtract: []string{"HH_SIZE_1"}},
	}
	targets, err := Aggregate(testACS(), testCat(t), rems, []string{"CA"})
	require.NoError(t, err)

	tract := targets.Table("TRACT")
	assert.Equal(t, []int64{80, 40}, ints(t, tract, "PER_18P"))
	assert.Equal(t, []int64{21, 20}, ints(t, tract, "HH_TRACT_2P"))
	// remainders are not part of the state totals
	assert.False(t, targets.Table("STATE").Has("PER_18P"))
}

func TestAggregate_NegativeRemainder(t *testing.T) {
	acs := census.Tables{
		"TRACT": table.MustNew(
			table.Strings("state", "06"),
			table.Strings("county", "001"),
			table.Strings("tract", "000100"),
			table.Ints("B01001_001E", 100),
			table.Ints("B01001_003E", 110),
			table.Ints("B01001_004E", 0),
			table.Ints("B01001_005E", 0),
		),
	}
	cat, err := census.ParseCatalog(strings.NewReader(`geography,control_field,field,type,group
TRACT,PER_TOTAL,B01001_001E,int,B01001
TRACT,PER_AGE_0_17,B01001_003E,int,B01001
`))
	require.NoError(t, err)

	rems := []Remainder{{Name: "PER_ADULT", Geography: "TRACT", Add: []string{"PER_TOTAL"}, Subtract: []string{"PER_AGE_0_17"}}}
	_, err = Aggregate(acs, cat, rems, []string{"CA"})
	require.Error(t, err)

	var neg *NegativeRemainderError
	require.ErrorAs(t, err, &neg)
	assert.Equal(t, "PER_ADULT", neg.Name)
	assert.Equal(t, int64(6001000100), neg.ID)
	assert.Equal(t, -10.0, neg.Value)
	assert.Contains(t, err.Error(), "06001000100")
}

func TestAggregate_ZeroRemainderAllowed(t *testing.T) {
	rems := []Remainder{{Name: "ZERO", Geography: "BG", Add: []string{"HH_TOTAL"}, Subtract: []string{"HH_SIZE_1", "HH_SIZE_2P"}}}
	targets, err := Aggregate(testACS(), testCat(t), rems, []string{"CA"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, ints(t, targets.Table("BG"), "ZERO"))
}

func TestAggregate_RemainderStructure(t *testing.T) {
	// a tract table has no block groups to group by
	rems := []Remainder{{Name: "BAD", Geography: "BG", Add: []string{"PER_TOTAL"}}}
	_, err := Aggregate(testACS(), testCat(t), rems, []string{"CA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be grouped to BG")
}

func TestGroupedTotals_LastMatchingTable(t *testing.T) {
	targets := &Targets{
		Geographies: []string{"BG", "TRACT"},
		Tables: map[string]*table.Table{
			"BG":    table.MustNew(table.Ints("BG", 60010001001, 60010001002), table.Ints("HH_TOTAL", 10, 20)),
			"TRACT": table.MustNew(table.Ints("TRACT", 6001000100), table.Ints("HH_TOTAL", 50)),
		},
	}

	sums, allInt, err := groupedTotals(targets, "HH_REM", "TRACT", []string{"hh_total"})
	require.NoError(t, err)
	assert.True(t, allInt)
	assert.Equal(t, map[int64]float64{6001000100: 50}, sums)
}

func TestAggregate_MissingGeography(t *testing.T) {
	acs := testACS()
	delete(acs, "TRACT")
	_, err := Aggregate(acs, testCat(t), nil, []string{"CA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ACS table for TRACT")
}

func TestAggregate_DuplicateIDs(t *testing.T) {
	acs := testACS()
	require.NoError(t, acs["TRACT"].Append(table.MustNew(
		table.Strings("state", "06"),
		table.Strings("county", "001"),
		table.Strings("tract", "000100"),
		table.Ints("B01001_001E", 1),
		table.Ints("B01001_003E", 1),
		table.Ints("B01001_004E", 0),
		table.Ints("B01001_005E", 0),
	)))
	_, err := Aggregate(acs, testCat(t), nil, []string{"CA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate ids")
}
