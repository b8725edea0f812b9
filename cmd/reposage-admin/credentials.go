package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reposage/reposage/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("env:            %s\n", cfg.Env)
		fmt.Printf("log level:      %s\n", cfg.LogLevel)
		fmt.Printf("graph:          %s (user %s, password %s)\n",
			cfg.Graph.URI(), cfg.Graph.User, maskSecret(cfg.Graph.Password))
		fmt.Printf("queue:          %s\n", maskURL(cfg.Queue.URL))
		fmt.Printf("store:          %s\n", cfg.Store.Type)
		fmt.Printf("clone dir:      %s\n", cfg.Worker.CloneDir)
		fmt.Printf("concurrency:    %d\n", cfg.Worker.Concurrency)
		fmt.Printf("scan globs:     %s\n", strings.Join(cfg.Scan.Globs, ", "))
		fmt.Printf("max file size:  %d MB\n", cfg.Scan.MaxFileSizeMB)
		return nil
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Store the graph password in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("Graph password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimSpace(string(raw))
		if password == "" {
			return fmt.Errorf("password cannot be empty")
		}
		if err := config.NewKeyringManager().SaveGraphPassword(password); err != nil {
			return err
		}
		fmt.Println("saved to OS keychain")
		return nil
	},
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "****"
}

// maskURL hides userinfo in connection URLs.
func maskURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		rest := url[i+3:]
		if at := strings.IndexByte(rest, '@'); at >= 0 {
			return url[:i+3] + "****@" + rest[at+1:]
		}
	}
	return url
}
