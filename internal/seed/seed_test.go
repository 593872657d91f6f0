package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

func rawHH() *table.Table {
	return table.MustNew(
		table.Strings("SERIALNO", "2019HU02", "2019HU01", "2019HU03", "2019HU04", "2019HU05"),
		table.Ints("PUMA", 101, 102, 101, 101, 300),
		table.Ints("ST", 6, 6, 6, 6, 41),
		table.Ints("WGTP", 20, 10, 30, 40, 50),
		table.Ints("NP", 2, 1, 1, 0, 1),
	)
}

func rawPER() *table.Table {
	return table.MustNew(
		table.Strings("SERIALNO", "2019HU01", "2019HU02", "2019HU02", "2019HU03", "2019HU05", "2019HU09"),
		table.Ints("SPORDER", 1, 1, 2, 1, 1, 1),
		table.Ints("PUMA", 102, 101, 101, 101, 300, 101),
		table.Ints("ST", 6, 6, 6, 6, 41, 6),
		table.Ints("PWGTP", 11, 21, 22, 31, 51, 99),
		table.Ints("AGEP", 34, 45, 12, 15, 60, 30),
	)
}

func col(t *testing.T, tbl *table.Table, name string) []int64 {
	t.Helper()
	c, err := tbl.Column(name)
	require.NoError(t, err)
	out := make([]int64, c.Len())
	for i := range out {
		out[i] = c.Int(i)
	}
	return out
}

func TestBuild(t *testing.T) {
	seeds, err := Build(rawHH(), rawPER(), []string{"CA"})
	require.NoError(t, err)

	hh := seeds.Households
	// HU04 has no persons and HU09 has no household; OR is out of scope
	require.Equal(t, 3, hh.Len())
	assert.Equal(t, []string{"hh_id", "SERIALNO", "PUMA", "WGTP", "NP", "REGION", "STATE", "NP_ADULTS"}, hh.Names())

	// sorted (SERIALNO, PUMA): HU01 -> 1, HU02 -> 2, HU03 -> 3
	assert.Equal(t, []int64{6101*IDStride + 2, 6101*IDStride + 3, 6102*IDStride + 1}, col(t, hh, "hh_id"))
	assert.Equal(t, []int64{6101, 6101, 6102}, col(t, hh, "PUMA"))
	assert.Equal(t, []int64{6, 6, 6}, col(t, hh, "STATE"))
	assert.Equal(t, []int64{1, 1, 1}, col(t, hh, "REGION"))
	assert.Equal(t, []int64{1, 0, 1}, col(t, hh, "NP_ADULTS"))

	per := seeds.Persons
	require.Equal(t, 4, per.Len())
	assert.Equal(t, []string{"hh_id", "SERIALNO", "SPORDER", "PUMA", "PWGTP", "AGEP", "REGION", "STATE"}, per.Names())

	// every person references an existing household
	ids := make(map[int64]bool)
	for _, id := range col(t, hh, "hh_id") {
		ids[id] = true
	}
	for _, id := range col(t, per, "hh_id") {
		assert.True(t, ids[id], "person references unknown household %d", id)
	}
}

func TestBuild_SerialReusedAcrossPUMAs(t *testing.T) {
	hh := table.MustNew(
		table.Strings("SERIALNO", "A", "A"),
		table.Ints("PUMA", 101, 102),
		table.Ints("ST", 6, 6),
		table.Ints("WGTP", 1, 2),
	)
	per := table.MustNew(
		table.Strings("SERIALNO", "A", "A"),
		table.Ints("PUMA", 101, 102),
		table.Ints("ST", 6, 6),
		table.Ints("AGEP", 20, 30),
	)
	seeds, err := Build(hh, per, []string{"CA"})
	require.NoError(t, err)
	assert.Equal(t, []int64{6101*IDStride + 1, 6102*IDStride + 2}, col(t, seeds.Households, "hh_id"))
}

func TestBuild_MissingAge(t *testing.T) {
	per := rawPER()
	per.Drop("AGEP")
	_, err := Build(rawHH(), per, []string{"CA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGEP")
}

func TestBuild_UnknownState(t *testing.T) {
	_, err := Build(rawHH(), rawPER(), []string{"XX"})
	assert.Error(t, err)
}

func TestCheckUnique(t *testing.T) {
	require.NoError(t, CheckUnique(table.MustNew(table.Ints("hh_id", 1, 2, 3))))

	err := CheckUnique(table.MustNew(table.Ints("hh_id", 1, 2, 2)))
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int64(2), dup.ID)
	assert.Equal(t, 2, dup.Count)
}
