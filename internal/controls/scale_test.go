package controls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

func TestScaleTargets(t *testing.T) {
	targets, err := Aggregate(testACS(), testCat(t), nil, []string{"CA"})
	require.NoError(t, err)

	crosswalk := table.MustNew(
		table.Ints("BG", 60010001001, 60010001002, 60010002001),
		table.Ints("TRACT", 6001000100, 6001000100, 6001000200),
		table.Ints("PUMA", 6101, 6101, 6102),
	)
	s := Scale{
		PUMA: map[string]map[int64]float64{
			"households": {6101: 2, 6102: 0.5},
			"persons":    {6101: 1.1, 6102: 0.9},
		},
		State:  map[string]map[int64]float64{"households": {6: 1.5}, "persons": {6: 1}},
		Region: map[string]float64{"households": 0.5, "persons": 2},
	}
	require.NoError(t, ScaleTargets(targets, crosswalk, testSpecs(), s))

	bg := targets.Table("BG")
	assert.Equal(t, []int64{20, 40, 15}, ints(t, bg, "HH_TOTAL"))
	// geography ids are untouched
	assert.Equal(t, []int64{60010001001, 60010001002, 60010002001}, ints(t, bg, "BG"))

	tract := targets.Table("TRACT")
	assert.Equal(t, []int64{110, 45}, ints(t, tract, "PER_TOTAL"))

	assert.Equal(t, []int64{90}, ints(t, targets.Table("STATE"), "HH_TOTAL"))
	assert.Equal(t, []int64{30}, ints(t, targets.Table("REGION"), "HH_TOTAL"))
	assert.Equal(t, []int64{300}, ints(t, targets.Table("REGION"), "PER_TOTAL"))
}

func TestScaleTargets_MissingFactor(t *testing.T) {
	targets, err := Aggregate(testACS(), testCat(t), nil, []string{"CA"})
	require.NoError(t, err)

	crosswalk := table.MustNew(
		table.Ints("BG", 60010001001, 60010001002, 60010002001),
		table.Ints("TRACT", 6001000100, 6001000100, 6001000200),
		table.Ints("PUMA", 6101, 6101, 6102),
	)
	s := Scale{PUMA: map[string]map[int64]float64{"households": {6101: 1}}}
	err = ScaleTargets(targets, crosswalk, testSpecs(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUMA 6102")
}
