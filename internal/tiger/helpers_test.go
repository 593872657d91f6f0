package tiger

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

const nad83PRJ = `GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

type testFeature struct {
	attrs []string
	rings [][]shp.Point
}

// square returns a closed clockwise ring (a shapefile shell).
func square(x0, y0, size float64) []shp.Point {
	return []shp.Point{
		{X: x0, Y: y0},
		{X: x0, Y: y0 + size},
		{X: x0 + size, Y: y0 + size},
		{X: x0 + size, Y: y0},
		{X: x0, Y: y0},
	}
}

// reversed returns the ring wound the other way (a shapefile hole).
func reversed(ring []shp.Point) []shp.Point {
	out := make([]shp.Point, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

// writeTestShapefile writes name.shp/.shx/.dbf plus optional sidecars into
// dir and returns the .shp path.
func writeTestShapefile(t *testing.T, dir, name string, fields []shp.Field, feats []testFeature, prj, cpg string) string {
	t.Helper()
	shpPath := filepath.Join(dir, name+".shp")

	w, err := shp.Create(shpPath, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for i, f := range feats {
		poly := shp.Polygon(*shp.NewPolyLine(f.rings))
		w.Write(&poly)
		for j, v := range f.attrs {
			require.NoError(t, w.WriteAttribute(i, j, v))
		}
	}
	w.Close()

	// go-shp names the attribute file <base>dbf; the reader expects <base>.dbf.
	base := filepath.Join(dir, name)
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	require.FileExists(t, base+".dbf")

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".prj"), []byte(prj), 0o644))
	}
	if cpg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".cpg"), []byte(cpg), 0o644))
	}
	return shpPath
}

// zipDir packs every file of dir into a zip and returns its bytes.
func zipDir(t *testing.T, dir string) []byte {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "out.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		fw, err := zw.Create(e.Name())
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	return data
}
