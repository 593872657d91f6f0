package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
)

// Combined files, keyed by output name.
var combined = []struct {
	name string
	path func(prepare.Paths) string
}{
	{prepare.ExpandedFile, prepare.Paths.Expanded},
	{prepare.SeedHouseholdsFile, prepare.Paths.SeedHouseholds},
	{prepare.SeedPersonsFile, prepare.Paths.SeedPersons},
}

// Combine concatenates the expanded household ids and seeds of every batch
// into outDir and returns the row count per file. Batches without a file are
// logged and skipped. Columns follow the first file found; missing columns
// are left blank and extra ones dropped.
func Combine(ctx context.Context, opts Options, batches []Batch, outDir string) (map[string]int64, error) {
	log := zap.L().With(zap.String("component", "combine"))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "combine: create %s", outDir)
	}

	counts := make(map[string]int64, len(combined))
	for _, f := range combined {
		var sources []string
		for _, b := range batches {
			p := f.path(opts.Paths(b))
			if _, err := os.Stat(p); err != nil {
				log.Warn("file not found, skipping", zap.String("batch", b.Name), zap.String("path", p))
				continue
			}
			sources = append(sources, p)
		}
		n, err := concat(ctx, filepath.Join(outDir, f.name), sources, log)
		if err != nil {
			return counts, err
		}
		counts[f.name] = n
		log.Info("combined", zap.String("file", f.name), zap.Int("sources", len(sources)), zap.Int64("rows", n))
	}
	return counts, nil
}

func concat(ctx context.Context, dst string, sources []string, log *zap.Logger) (n int64, err error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, eris.Wrapf(err, "combine: create %s", dst)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "combine: close %s", dst)
		}
	}()
	bw := bufio.NewWriter(out)
	w := csv.NewWriter(bw)

	var header []string
	for _, src := range sources {
		rows, hdr, err := copyFile(ctx, w, src, header, log)
		if err != nil {
			return n, err
		}
		if header == nil && hdr != nil {
			header = hdr
		}
		n += rows
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return n, eris.Wrapf(err, "combine: write %s", dst)
	}
	if err := bw.Flush(); err != nil {
		return n, eris.Wrapf(err, "combine: flush %s", dst)
	}
	return n, nil
}

// copyFile streams the rows of src into w. When header is nil the file's own
// header is written and returned.
func copyFile(ctx context.Context, w *csv.Writer, src string, header []string, log *zap.Logger) (int64, []string, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "combine: open %s", src)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, bufio.NewReader(f), fetcher.CSVOptions{HasHeader: true, HeaderCh: headerCh})

	var (
		idx []int
		own []string
		n   int64
		buf []string
	)
	setup := func(hdr []string) error {
		own = hdr
		if header == nil {
			header = hdr
			if err := w.Write(hdr); err != nil {
				return eris.Wrap(err, "combine: write header")
			}
		}
		idx = align(header, hdr, src, log)
		buf = make([]string, len(header))
		return nil
	}

	for row := range rows {
		if idx == nil {
			if err := setup(<-headerCh); err != nil {
				return n, own, err
			}
		}
		for i, j := range idx {
			buf[i] = ""
			if j >= 0 && j < len(row) {
				buf[i] = row[j]
			}
		}
		if err := w.Write(buf); err != nil {
			return n, own, eris.Wrapf(err, "combine: write row from %s", src)
		}
		n++
	}
	if err := <-errs; err != nil {
		return n, own, eris.Wrapf(err, "combine: read %s", src)
	}
	// header-only file
	if idx == nil {
		select {
		case hdr := <-headerCh:
			if err := setup(hdr); err != nil {
				return n, own, err
			}
		default:
		}
	}
	return n, own, nil
}

// align maps each output column to its index in hdr, or -1.
func align(header, hdr []string, src string, log *zap.Logger) []int {
	pos := make(map[string]int, len(hdr))
	for i, h := range hdr {
		pos[h] = i
	}
	idx := make([]int, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		j, ok := pos[h]
		if !ok {
			j = -1
			log.Warn("column missing, left blank", zap.String("path", src), zap.String("column", h))
		}
		idx[i] = j
		used[h] = true
	}
	for _, h := range hdr {
		if !used[h] {
			log.Warn("extra column dropped", zap.String("path", src), zap.String("column", h))
		}
	}
	return idx
}
