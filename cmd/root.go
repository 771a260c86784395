package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/wvfoia-sync/internal/config"
)

var cfg *config.Config

var (
	dbFlag      string
	verboseFlag bool
	debugFlag   bool

	modeFlag  string
	rangeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wvfoia-sync",
	Short: "Mirror West Virginia FOIA request entries into a local database",
	Long: "Fetches FOIA entry detail pages from the Secretary of State site, parses them into " +
		"records and stores them locally. Backfill an id range, crawl forward for new entries, " +
		"or retrieve single entries without touching the database.",
	Args: cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyFlagOverrides(c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	// Running the bare command keeps the --mode invocation working.
	RunE: func(cmd *cobra.Command, args []string) error {
		switch modeFlag {
		case "range":
			if rangeFlag == "" {
				return eris.New("--range lo-hi is required in range mode")
			}
			lo, hi, err := parseRange(rangeFlag)
			if err != nil {
				return err
			}
			return runRange(cmd, lo, hi)
		case "crawl":
			return runCrawl(cmd)
		case "retrieve":
			if len(args) == 0 {
				return cmd.Help()
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runRetrieve(cmd, ids, "", false)
		default:
			return eris.Errorf("unknown mode %q (want range, crawl or retrieve)", modeFlag)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbFlag, "db", "", "database path (sqlite) or connection URL (postgres)")
	pf.BoolVar(&verboseFlag, "verbose", false, "log at info level")
	pf.BoolVarP(&debugFlag, "debug", "d", false, "log at debug level")

	rootCmd.Flags().StringVar(&modeFlag, "mode", "retrieve", "sync mode: range, crawl or retrieve")
	rootCmd.Flags().StringVar(&rangeFlag, "range", "", "id range for range mode, e.g. 1-49166")
}

// applyFlagOverrides lets command-line flags win over file and env config.
func applyFlagOverrides(c *config.Config) {
	if dbFlag != "" {
		c.Store.DatabaseURL = dbFlag
		if strings.HasPrefix(dbFlag, "postgres://") || strings.HasPrefix(dbFlag, "postgresql://") {
			c.Store.Driver = "postgres"
		}
	}
	switch {
	case debugFlag:
		c.Log.Level = "debug"
	case verboseFlag:
		c.Log.Level = "info"
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
