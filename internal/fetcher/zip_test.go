package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"tl_2020_06_bg.shp": "shp",
		"tl_2020_06_bg.dbf": "dbf",
		"tl_2020_06_bg.cpg": "UTF-8",
	})
	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	data, err := os.ReadFile(filepath.Join(destDir, "tl_2020_06_bg.cpg"))
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", string(data))
}

func TestExtractZIP_ZipSlip(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../evil.txt": "x"})
	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestOpenZIPMember(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"ACS2019_PUMS_README.pdf": "pdf",
		"psam_h06.csv":            "SERIALNO,PUMA\n1,100\n",
	})

	rc, name, err := OpenZIPMember(zipPath, ".CSV")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck

	assert.Equal(t, "psam_h06.csv", name)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "SERIALNO,PUMA\n1,100\n", string(data))
}

func TestOpenZIPMember_Missing(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"a.txt": "a"})
	_, _, err := OpenZIPMember(zipPath, ".csv")
	require.Error(t, err)
}
