package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts all files from a ZIP archive to the destination directory.
// Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// zipMember closes the member and its archive together.
type zipMember struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m *zipMember) Close() error {
	err := m.ReadCloser.Close()
	if cerr := m.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenZIPMember opens the first file in the archive whose extension matches
// ext (case-insensitive) without extracting it.
func OpenZIPMember(zipPath, ext string) (io.ReadCloser, string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, "", eris.Wrap(err, "zip: open archive")
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ext) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = r.Close()
			return nil, "", eris.Wrapf(err, "zip: open %s", f.Name)
		}
		return &zipMember{ReadCloser: rc, archive: r}, f.Name, nil
	}
	_ = r.Close()
	return nil, "", eris.Errorf("zip: no %s file in %s", ext, zipPath)
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	if _, err := writeBody(rc, destPath); err != nil {
		return "", eris.Wrap(err, "zip: extract")
	}
	return destPath, nil
}
