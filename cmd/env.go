package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/batch"
	"github.com/RSGInc/bts-populationsim/internal/cache"
	"github.com/RSGInc/bts-populationsim/internal/census"
	"github.com/RSGInc/bts-populationsim/internal/config"
	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/store"
	"github.com/RSGInc/bts-populationsim/internal/tiger"
)

// sourceEnv holds the fetchers and cache shared by data commands.
type sourceEnv struct {
	Cache   *cache.Cache
	Fetcher fetcher.Fetcher
	Catalog *census.Catalog
	Census  *census.Source
	Tiger   *tiger.Client
}

// Close releases the cache.
func (e *sourceEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

func newFetcher(c *config.Config) fetcher.Fetcher {
	h := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Census.UserAgent,
		Timeout:   c.Census.Timeout(),
		Retry:     c.Retry.Resilience(),
	})
	f := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		User:     c.Census.FTPUser,
		Password: c.Census.FTPPassword,
	})
	return fetcher.NewRouter(h, f)
}

func openCache(ctx context.Context, c *config.Config) (*cache.Cache, error) {
	if !c.Cache.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Cache.Path), 0o755); err != nil {
		return nil, eris.Wrap(err, "create cache dir")
	}
	return cache.Open(ctx, c.Cache.Path)
}

// pumsClient returns the configured PUMS source for one vintage.
func pumsClient(c *config.Config, f fetcher.Fetcher, year int, acsType string) census.StateFetcher {
	if c.Census.PUMSSource == "api" || acsType == "acs1" {
		return census.NewAPIClient(f, census.PUMS, census.APIOptions{
			BaseURL: c.Census.APIBase,
			Year:    year,
			ACSType: acsType,
			Key:     c.Census.APIKey,
		})
	}
	return census.NewArchiveClient(f, census.ArchiveOptions{
		BaseURL: c.Census.ArchiveBase,
		Year:    year,
		Dir:     filepath.Join(c.Paths.Downloads, "pums"),
	})
}

func initSources(ctx context.Context, c *config.Config) (*sourceEnv, error) {
	cat, err := census.LoadCatalog(c.Controls.Catalog)
	if err != nil {
		return nil, err
	}
	ch, err := openCache(ctx, c)
	if err != nil {
		return nil, err
	}
	f := newFetcher(c)
	acs := census.NewAPIClient(f, census.ACS, census.APIOptions{
		BaseURL: c.Census.APIBase,
		Year:    c.Census.Year,
		ACSType: c.Census.ACSType,
		Key:     c.Census.APIKey,
	})
	return &sourceEnv{
		Cache:   ch,
		Fetcher: f,
		Catalog: cat,
		Census:  census.NewSource(ch, cat, acs, pumsClient(c, f, c.Census.Year, "acs5")),
		Tiger:   tiger.NewClient(f, ch, c.Geography.TigerYear, filepath.Join(c.Paths.Downloads, "tiger")),
	}, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// newPreparer loads the control definitions. Remainders, settings and rules
// are optional; without them the matching checks are skipped.
func newPreparer(c *config.Config, env *sourceEnv) (*prepare.Preparer, error) {
	p := &prepare.Preparer{
		Census:    env.Census,
		Tiger:     env.Tiger,
		Catalog:   env.Catalog,
		Tolerance: c.Controls.Tolerance,
	}
	log := zap.L().With(zap.String("component", "prepare"))

	if fileExists(c.Controls.Remainders) {
		rems, err := controls.LoadRemainders(c.Controls.Remainders)
		if err != nil {
			return nil, err
		}
		p.Remainders = rems
	}
	if !fileExists(c.Controls.Specs) || !fileExists(c.Controls.Settings) {
		log.Warn("controls.csv or settings.yaml not found, skipping control checks")
		return p, nil
	}
	specs, err := controls.LoadSpecs(c.Controls.Specs)
	if err != nil {
		return nil, err
	}
	if err := env.Catalog.CheckControls(controls.ControlFields(specs)); err != nil {
		return nil, err
	}
	settings, err := controls.LoadSettings(c.Controls.Settings)
	if err != nil {
		return nil, err
	}
	p.Specs, p.Totals = specs, settings.Totals()

	if fileExists(c.Controls.Rules) {
		rules, err := controls.LoadRules(c.Controls.Rules)
		if err != nil {
			return nil, err
		}
		p.Rules = rules
	}
	return p, nil
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
			return nil, eris.Wrap(err, "create ledger dir")
		}
		return store.NewSQLite(c.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// resolveStates returns the --states flag, or the configured states.
func resolveStates(flag []string, c *config.Config) ([]string, error) {
	list := c.Geography.States
	if len(flag) > 0 {
		list = flag
	}
	return states.Resolve(list)
}

func batchOptions(c *config.Config, size int, replace bool) batch.Options {
	if size <= 0 {
		size = c.Batch.Size
	}
	return batch.Options{
		Size:       size,
		Replace:    replace || c.Batch.Replace,
		DataRoot:   c.Paths.DataRoot,
		OutputRoot: c.Paths.OutputRoot,
		ConfigDirs: c.Paths.ConfigDirs,
	}
}
