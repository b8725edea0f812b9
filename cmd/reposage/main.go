package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reposage/reposage/internal/config"
	"github.com/reposage/reposage/internal/logging"
	"github.com/reposage/reposage/internal/store"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose bool
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reposage",
	Short: "reposage - property-graph code health analysis",
	Long: `reposage ingests source repositories into a property graph, runs
structural detectors over it and scores code health per tenant.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		return logging.Setup(logging.FromEnv(cfg.LogLevel, cfg.Env))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`reposage {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(workerCmd)
}

// newStore opens the run store the configuration points at. SQLite is
// the single-process local mode; Postgres is the shared deployment.
func newStore(cfg *config.Config) (store.Store, error) {
	logger := logrus.New()
	logger.SetLevel(logrusLevel(cfg.LogLevel))

	switch cfg.Store.Type {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	case "postgres":
		return store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

func logrusLevel(level string) logrus.Level {
	if parsed, err := logrus.ParseLevel(level); err == nil {
		return parsed
	}
	return logrus.InfoLevel
}
