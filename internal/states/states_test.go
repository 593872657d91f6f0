package states

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIPS(t *testing.T) {
	fips, ok := FIPS("ca")
	require.True(t, ok)
	assert.Equal(t, "06", fips)

	_, ok = FIPS("XX")
	assert.False(t, ok)

	n, err := FIPSInt("WY")
	require.NoError(t, err)
	assert.Equal(t, int64(56), n)
}

func TestAbbrFromFIPS(t *testing.T) {
	abbr, ok := AbbrFromFIPS("6")
	require.True(t, ok)
	assert.Equal(t, "CA", abbr)

	abbr, ok = AbbrFromFIPSInt(11)
	require.True(t, ok)
	assert.Equal(t, "DC", abbr)

	_, ok = AbbrFromFIPS("03")
	assert.False(t, ok)
}

func TestMainland(t *testing.T) {
	all := Mainland()
	assert.Len(t, all, 51)
	assert.Equal(t, "AL", all[0])
	assert.Equal(t, "WY", all[len(all)-1])
	assert.NotContains(t, all, "PR")
}

func TestResolve(t *testing.T) {
	got, err := Resolve([]string{" wy", "CA", "wy", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"WY", "CA"}, got)

	got, err = Resolve([]string{"all"})
	require.NoError(t, err)
	assert.Len(t, got, 51)

	_, err = Resolve([]string{"ZZ"})
	require.Error(t, err)

	_, err = Resolve(nil)
	require.Error(t, err)
}

func TestFIPSList(t *testing.T) {
	got, err := FIPSList([]string{"CA", "or"})
	require.NoError(t, err)
	assert.Equal(t, []string{"06", "41"}, got)

	set, err := FIPSInts([]string{"CA", "OR"})
	require.NoError(t, err)
	assert.True(t, set[6])
	assert.True(t, set[41])
}
