package tiger

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/fetcher"
)

// Download fetches a TIGER/Line ZIP into destDir unless it is already there,
// extracts it and returns the path of the .shp file.
func Download(ctx context.Context, f fetcher.Fetcher, url, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", url),
	)

	zipName := path.Base(url)
	zipPath := filepath.Join(destDir, zipName)

	downloaded, err := fetcher.EnsureFile(ctx, f, url, zipPath)
	if err != nil {
		return "", eris.Wrap(err, "tiger: download shapefile")
	}
	if !downloaded {
		log.Debug("zip already exists, skipping download", zap.String("path", zipPath))
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract ZIP")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}
	return shpPath, nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
