package tenant

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	rserr "github.com/reposage/reposage/internal/errors"
	"github.com/reposage/reposage/internal/graph"
)

// ProvisionTenant creates the tenant graph and returns its name.
// Backends that auto-create graphs on first write make this a metadata
// no-op; backends with explicit database management issue CREATE
// DATABASE. Idempotent either way.
func (f *Factory) ProvisionTenant(ctx context.Context, orgID, slug string) (string, error) {
	if orgID == "" {
		return "", rserr.Validation("orgID is required")
	}
	graphName := GenerateGraphName(orgID, slug)

	client, err := f.GetClient(ctx, orgID, slug)
	if err != nil {
		return "", err
	}
	if !client.Features().ExplicitDatabaseCreate {
		f.logger.Info("tenant graph provisioning is implicit on this backend",
			"tenant_id", orgID, "graph_name", graphName)
		return graphName, nil
	}

	if !graph.ValidIdentifier(graphName) {
		return "", rserr.Internalf("generated graph name %q is not a valid identifier", graphName)
	}

	// Database names cannot be parameterized; the name is validated above
	// and built from a sanitized slug plus hex digits.
	query := fmt.Sprintf("CREATE DATABASE `%s` IF NOT EXISTS", graphName)
	if _, err := neo4j.ExecuteQuery(ctx, f.driver, query, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase("system")); err != nil {
		return "", fmt.Errorf("failed to provision tenant graph %s: %w", graphName, err)
	}

	f.logger.Info("audit",
		"action", "tenant_provisioned",
		"tenant_id", orgID,
		"graph_name", graphName)
	return graphName, nil
}

// DeprovisionTenant closes any cached client and deletes the tenant
// graph. Idempotent: dropping a graph that does not exist succeeds.
func (f *Factory) DeprovisionTenant(ctx context.Context, orgID, slug string) error {
	graphName := GenerateGraphName(orgID, slug)

	f.CloseClient(orgID)

	if !graph.ValidIdentifier(graphName) {
		return rserr.Internalf("generated graph name %q is not a valid identifier", graphName)
	}

	query := fmt.Sprintf("DROP DATABASE `%s` IF EXISTS", graphName)
	if _, err := neo4j.ExecuteQuery(ctx, f.driver, query, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase("system")); err != nil {
		return fmt.Errorf("failed to deprovision tenant graph %s: %w", graphName, err)
	}

	f.logger.Info("audit",
		"action", "tenant_deprovisioned",
		"tenant_id", orgID,
		"graph_name", graphName)
	return nil
}
