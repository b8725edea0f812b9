// reposage-admin is the operator CLI: tenant provisioning, graph
// client cache inspection and credential management. It talks straight
// to the graph backend and never touches the job queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reposage/reposage/internal/config"
	"github.com/reposage/reposage/internal/logging"
	"github.com/reposage/reposage/internal/tenant"
)

var (
	Version = "dev"

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
	Use:           "reposage-admin",
	Short:         "Operator tooling for reposage tenants",
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
		if err := logging.Setup(logging.FromEnv(cfg.LogLevel, cfg.Env)); err != nil {
			return err
		}
		// The keychain beats the environment so operators can keep
		// .env files free of the graph password.
		if stored, err := config.NewKeyringManager().GetGraphPassword(); err == nil && stored != "" {
			cfg.Graph.Password = stored
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(deprovisionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(listCachedCmd)
	rootCmd.AddCommand(closeAllCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(setPasswordCmd)
}

// newFactory connects to the graph backend with the resolved
// credentials.
func newFactory(ctx context.Context) (*tenant.Factory, error) {
	return tenant.NewFactory(ctx, cfg.Graph.URI(), cfg.Graph.User, cfg.Graph.Password)
}
