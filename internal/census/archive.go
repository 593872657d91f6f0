package census

import (
	"context"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// DefaultArchiveBase hosts the PUMS CSV archives. The same tree is served
// from ftp://ftp2.census.gov.
const DefaultArchiveBase = "https://www2.census.gov/programs-surveys/acs/data/pums"

// ArchiveOptions configures an ArchiveClient.
type ArchiveOptions struct {
	BaseURL string
	Year    int
	Dir     string // zips are kept under Dir/csv
}

// ArchiveClient reads PUMS households and persons from the 5-year CSV
// archives, one zip per state and level.
type ArchiveClient struct {
	fetch fetcher.Fetcher
	opts  ArchiveOptions
	log   *zap.Logger
}

// NewArchiveClient returns a client downloading through f, which may route
// both http(s) and ftp URLs.
func NewArchiveClient(f fetcher.Fetcher, opts ArchiveOptions) *ArchiveClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultArchiveBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &ArchiveClient{
		fetch: f,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "census.archive")),
	}
}

// ArchiveName returns the zip name of a level and state, e.g. csv_hca.zip.
func ArchiveName(level, abbr string) (string, error) {
	var prefix string
	switch level {
	case Households:
		prefix = "csv_h"
	case Persons:
		prefix = "csv_p"
	default:
		return "", eris.Errorf("census: unknown PUMS level %q", level)
	}
	return prefix + strings.ToLower(abbr) + ".zip", nil
}

// URL returns the archive URL of a level and state.
func (c *ArchiveClient) URL(level, abbr string) (string, error) {
	name, err := ArchiveName(level, abbr)
	if err != nil {
		return "", err
	}
	return c.opts.BaseURL + "/" + path.Join(strconv.Itoa(c.opts.Year), "5-Year", name), nil
}

// FetchStates implements StateFetcher. Only schema columns are read.
func (c *ArchiveClient) FetchStates(ctx context.Context, level string, schema table.Schema, abbrs []string) (*table.Table, error) {
	out := table.Empty()
	for _, abbr := range abbrs {
		t, err := c.fetchState(ctx, level, schema, abbr)
		if err != nil {
			return nil, err
		}
		if err := out.Append(t); err != nil {
			return nil, eris.Wrapf(err, "census: combine %s %s", level, abbr)
		}
	}
	return out, nil
}

func (c *ArchiveClient) fetchState(ctx context.Context, level string, schema table.Schema, abbr string) (*table.Table, error) {
	u, err := c.URL(level, abbr)
	if err != nil {
		return nil, err
	}
	name, _ := ArchiveName(level, abbr)
	zipPath := filepath.Join(c.opts.Dir, "csv", name)

	downloaded, err := fetcher.EnsureFile(ctx, c.fetch, u, zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "census: download %s", u)
	}
	c.log.Info("reading PUMS archive",
		zap.String("level", level),
		zap.String("state", abbr),
		zap.Bool("downloaded", downloaded),
	)

	rc, member, err := fetcher.OpenZIPMember(zipPath, ".csv")
	if err != nil {
		return nil, eris.Wrapf(err, "census: open %s", zipPath)
	}
	defer rc.Close() //nolint:errcheck

	t, err := table.ReadCSV(rc, schema)
	if err != nil {
		return nil, eris.Wrapf(err, "census: parse %s in %s", member, name)
	}
	return t, nil
}
