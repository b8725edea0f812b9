package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	tenantOrgID   string
	tenantSlug    string
	clearRepoID   string
	confirmDanger bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the graph database for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenantFlags(); err != nil {
			return err
		}
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		defer factory.CloseAll(context.Background())

		name, err := factory.ProvisionTenant(cmd.Context(), tenantOrgID, tenantSlug)
		if err != nil {
			return err
		}
		fmt.Printf("provisioned graph %s for org %s\n", name, tenantOrgID)
		return nil
	},
}

var deprovisionCmd = &cobra.Command{
	Use:   "deprovision",
	Short: "Drop a tenant's graph database and all its data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenantFlags(); err != nil {
			return err
		}
		if !confirmDanger {
			return fmt.Errorf("deprovision destroys all graph data for org %s; re-run with --confirm", tenantOrgID)
		}
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		defer factory.CloseAll(context.Background())

		if err := factory.DeprovisionTenant(cmd.Context(), tenantOrgID, tenantSlug); err != nil {
			return err
		}
		fmt.Printf("deprovisioned org %s\n", tenantOrgID)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete one repository's subgraph inside a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenantFlags(); err != nil {
			return err
		}
		if clearRepoID == "" {
			return fmt.Errorf("--repo is required")
		}
		if !confirmDanger {
			return fmt.Errorf("clear deletes the graph for repo %s; re-run with --confirm", clearRepoID)
		}
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		defer factory.CloseAll(context.Background())

		client, err := factory.GetClient(cmd.Context(), tenantOrgID, tenantSlug)
		if err != nil {
			return err
		}
		deleted, err := client.DeleteRepository(cmd.Context(), clearRepoID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d nodes for repo %s\n", deleted, clearRepoID)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph client cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		defer factory.CloseAll(context.Background())

		s := factory.Stats()
		fmt.Printf("cached clients: %d\n", s.CachedClients)
		sort.Strings(s.GraphNames)
		for _, name := range s.GraphNames {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

var listCachedCmd = &cobra.Command{
	Use:   "list-cached",
	Short: "List cached tenant graph clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		defer factory.CloseAll(context.Background())

		entries := factory.ListCached()
		sort.Slice(entries, func(i, j int) bool { return entries[i].OrgID < entries[j].OrgID })
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.OrgID, e.GraphName)
		}
		if len(entries) == 0 {
			fmt.Println("no cached clients")
		}
		return nil
	},
}

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Close every cached tenant graph client",
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory(cmd.Context())
		if err != nil {
			return err
		}
		return factory.CloseAll(cmd.Context())
	},
}

func requireTenantFlags() error {
	if tenantOrgID == "" {
		return fmt.Errorf("--org is required")
	}
	if tenantSlug == "" {
		tenantSlug = tenantOrgID
	}
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{provisionCmd, deprovisionCmd, clearCmd} {
		cmd.Flags().StringVar(&tenantOrgID, "org", "", "organization id")
		cmd.Flags().StringVar(&tenantSlug, "slug", "", "organization slug (default: org id)")
	}
	deprovisionCmd.Flags().BoolVar(&confirmDanger, "confirm", false, "confirm the destructive operation")
	clearCmd.Flags().BoolVar(&confirmDanger, "confirm", false, "confirm the destructive operation")
	clearCmd.Flags().StringVar(&clearRepoID, "repo", "", "repository id to clear")
}
