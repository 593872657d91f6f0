package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "populationsim",
	Short: "Census input preparation for PopulationSim",
	Long: `Fetches ACS, PUMS and TIGER data, builds PopulationSim seeds, controls and
crosswalks per batch of states, runs the synthesizer and validates its output.

Settings come from ./config.yaml, then POPSIM_* environment variables (a .env
file is read first), then the flags below. POPSIM_CENSUS_API_KEY holds the
Census Data API key.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyRootFlags(cmd.Flags(), c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Int("year", 0, "ACS/PUMS vintage, overrides census.year")
	pf.String("acs-type", "", "ACS product (acs5 or acs1), overrides census.acs_type")
	pf.String("log-level", "", "debug, info, warn or error; overrides log.level")
	pf.String("log-format", "", "json or console; overrides log.format")
}

// applyRootFlags copies the persistent flags that were set on the command
// line over the loaded configuration.
func applyRootFlags(fs *pflag.FlagSet, c *config.Config) {
	if fs.Changed("year") {
		c.Census.Year, _ = fs.GetInt("year")
	}
	if fs.Changed("acs-type") {
		c.Census.ACSType, _ = fs.GetString("acs-type")
	}
	if fs.Changed("log-level") {
		c.Log.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-format") {
		c.Log.Format, _ = fs.GetString("log-format")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
