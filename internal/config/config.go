package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RSGInc/bts-populationsim/internal/resilience"
	"github.com/RSGInc/bts-populationsim/internal/states"
)

// Config holds the full application configuration.
type Config struct {
	Census     CensusConfig     `yaml:"census" mapstructure:"census"`
	Geography  GeographyConfig  `yaml:"geography" mapstructure:"geography"`
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Controls   ControlsConfig   `yaml:"controls" mapstructure:"controls"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Adjust     AdjustConfig     `yaml:"adjust" mapstructure:"adjust"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CensusConfig configures the Census Data API and the PUMS archives.
type CensusConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	APIBase     string `yaml:"api_base" mapstructure:"api_base"`
	Year        int    `yaml:"year" mapstructure:"year"`
	ACSType     string `yaml:"acs_type" mapstructure:"acs_type"`
	PUMSSource  string `yaml:"pums_source" mapstructure:"pums_source"` // api or archive
	ArchiveBase string `yaml:"archive_base" mapstructure:"archive_base"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// GeographyConfig selects the states and the TIGER vintage.
type GeographyConfig struct {
	States    []string `yaml:"states" mapstructure:"states"`
	TigerYear int      `yaml:"tiger_year" mapstructure:"tiger_year"`
}

// PathsConfig locates inputs and outputs on disk.
type PathsConfig struct {
	DataRoot   string   `yaml:"data_root" mapstructure:"data_root"`
	OutputRoot string   `yaml:"output_root" mapstructure:"output_root"`
	ConfigDirs []string `yaml:"config_dirs" mapstructure:"config_dirs"`
	Downloads  string   `yaml:"downloads" mapstructure:"downloads"`
	Combined   string   `yaml:"combined" mapstructure:"combined"`
}

// BatchConfig configures state batching.
type BatchConfig struct {
	Size    int  `yaml:"size" mapstructure:"size"`
	Replace bool `yaml:"replace" mapstructure:"replace"`
}

// EngineConfig configures the synthesizer subprocess.
type EngineConfig struct {
	Command []string          `yaml:"command" mapstructure:"command"`
	WorkDir string            `yaml:"work_dir" mapstructure:"work_dir"`
	Env     map[string]string `yaml:"env" mapstructure:"env"`
}

// ControlsConfig locates the control definitions.
type ControlsConfig struct {
	Catalog    string  `yaml:"catalog" mapstructure:"catalog"`
	Specs      string  `yaml:"specs" mapstructure:"specs"`
	Settings   string  `yaml:"settings" mapstructure:"settings"`
	Remainders string  `yaml:"remainders" mapstructure:"remainders"`
	Rules      string  `yaml:"rules" mapstructure:"rules"`
	Tolerance  float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// ValidationConfig locates validation.yaml.
type ValidationConfig struct {
	Settings string `yaml:"settings" mapstructure:"settings"`
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
}

// AdjustConfig configures the 1-year weight adjustment.
type AdjustConfig struct {
	Year int `yaml:"year" mapstructure:"year"`
}

// CacheConfig configures the raw table and geometry cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PublishConfig configures the optional Postgres publisher.
type PublishConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// RetryConfig configures backoff for census downloads.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Resilience converts the settings to a resilience.RetryConfig.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Timeout returns the HTTP timeout.
func (c CensusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; variables already set win
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POPSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("census.api_key", "")
	v.SetDefault("census.api_base", "https://api.census.gov")
	v.SetDefault("census.year", 2019)
	v.SetDefault("census.acs_type", "acs5")
	v.SetDefault("census.pums_source", "archive")
	v.SetDefault("census.archive_base", "https://www2.census.gov/programs-surveys/acs/data/pums")
	v.SetDefault("census.user_agent", "bts-populationsim/1.0")
	v.SetDefault("census.timeout_secs", 300)
	v.SetDefault("census.ftp_user", "")
	v.SetDefault("census.ftp_password", "")
	v.SetDefault("geography.states", []string{states.All})
	v.SetDefault("geography.tiger_year", 2019)
	v.SetDefault("paths.data_root", "populationsim/data")
	v.SetDefault("paths.output_root", "populationsim/output")
	v.SetDefault("paths.config_dirs", []string{"populationsim/configs"})
	v.SetDefault("paths.downloads", "populationsim/downloads")
	v.SetDefault("paths.combined", "populationsim/combined")
	v.SetDefault("batch.size", 1)
	v.SetDefault("batch.replace", false)
	v.SetDefault("engine.command", []string{"python", "-m", "run_populationsim"})
	v.SetDefault("engine.work_dir", "populationsim")
	v.SetDefault("controls.catalog", "populationsim/configs/controls_aggregator.csv")
	v.SetDefault("controls.specs", "populationsim/configs/controls.csv")
	v.SetDefault("controls.settings", "populationsim/configs/settings.yaml")
	v.SetDefault("controls.remainders", "populationsim/configs/remainders.yaml")
	v.SetDefault("controls.rules", "populationsim/configs/seed_rules.yaml")
	v.SetDefault("controls.tolerance", 0.01)
	v.SetDefault("validation.settings", "populationsim/configs/validation.yaml")
	v.SetDefault("validation.enabled", true)
	v.SetDefault("adjust.year", 2019)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "populationsim/cache.db")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "populationsim/runs.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("publish.database_url", "")
	v.SetDefault("publish.schema", "populationsim")
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Modes accepted by Validate.
const (
	ModePrepare = "prepare"
	ModeBatch   = "batch"
	ModePublish = "publish"
	ModeRuns    = "runs"
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	needsCensus := mode == ModePrepare || mode == ModeBatch
	switch mode {
	case ModePrepare, ModeBatch, ModePublish, ModeRuns:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsCensus {
		if _, err := states.Resolve(c.Geography.States); err != nil {
			add("geography.states: %v", err)
		}
		if c.Census.ACSType != "acs1" && c.Census.ACSType != "acs5" {
			add("census.acs_type must be acs1 or acs5, got %q", c.Census.ACSType)
		}
		if c.Census.PUMSSource != "api" && c.Census.PUMSSource != "archive" {
			add("census.pums_source must be api or archive, got %q", c.Census.PUMSSource)
		}
		if c.Paths.DataRoot == "" || c.Paths.OutputRoot == "" {
			add("paths.data_root and paths.output_root are required")
		}
		if c.Controls.Catalog == "" {
			add("controls.catalog is required")
		}
		if c.Controls.Tolerance < 0 || c.Controls.Tolerance >= 1 {
			add("controls.tolerance must be in [0, 1), got %v", c.Controls.Tolerance)
		}
	}
	if mode == ModeBatch {
		if c.Batch.Size < 1 {
			add("batch.size must be >= 1, got %d", c.Batch.Size)
		}
		if len(c.Engine.Command) == 0 {
			add("engine.command is required")
		}
		if len(c.Paths.ConfigDirs) == 0 {
			add("paths.config_dirs is required")
		}
	}
	if mode == ModeBatch || mode == ModeRuns {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				add("store.path is required for sqlite")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				add("store.database_url is required for postgres")
			}
		default:
			add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
	}
	if mode == ModePublish && c.Publish.DatabaseURL == "" {
		add("publish.database_url is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
