package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	rserr "github.com/reposage/reposage/internal/errors"
	"github.com/reposage/reposage/internal/graph"
)

// Factory maps organizations to isolated tenant graph handles. One
// shared driver backs every tenant client; isolation comes from the
// per-tenant database name plus repoId tagging inside each graph.
type Factory struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*graph.Client // orgID -> cached client
	owners  map[string]string        // graphName -> orgID (collision sentinel)
}

// Stats summarizes factory cache state for the admin CLI.
type Stats struct {
	CachedClients int
	GraphNames    []string
}

// CachedClient describes one cache entry for operator listings.
type CachedClient struct {
	OrgID     string
	GraphName string
}

// NewFactory connects the shared driver and verifies connectivity
// (fail fast on startup).
func NewFactory(ctx context.Context, uri, user, password string) (*Factory, error) {
	if uri == "" || user == "" || password == "" {
		return nil, rserr.Validationf("graph credentials missing: uri=%s user=%s", uri, user)
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, rserr.Transient(err, fmt.Sprintf("failed to connect to graph at %s", uri))
	}

	return &Factory{
		driver:  driver,
		logger:  slog.Default().With("component", "tenant_factory"),
		clients: make(map[string]*graph.Client),
		owners:  make(map[string]string),
	}, nil
}

// GetClient returns the cached client for the org, creating one on
// first use. Creation is guarded so concurrent first-time callers
// produce exactly one client (double-checked under the mutex).
func (f *Factory) GetClient(ctx context.Context, orgID, slug string) (*graph.Client, error) {
	if orgID == "" {
		return nil, rserr.Validation("orgID is required")
	}

	f.mu.Lock()
	if client, ok := f.clients[orgID]; ok {
		f.mu.Unlock()
		return client, nil
	}
	f.mu.Unlock()

	graphName := GenerateGraphName(orgID, slug)

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check: another goroutine may have won the race.
	if client, ok := f.clients[orgID]; ok {
		return client, nil
	}

	// A generated name owned by a different org is impossible by
	// construction (fingerprint of the orgId is part of the name);
	// hitting this means a naming bug, not a recoverable condition.
	if owner, ok := f.owners[graphName]; ok && owner != orgID {
		f.logger.Error("graph name collision across tenants",
			"graph_name", graphName, "owner", owner, "requested_by", orgID)
		return nil, rserr.Internalf("graph name %s already owned by another tenant", graphName)
	}

	client := graph.NewClientWithDriver(f.driver, graphName, orgID)
	f.clients[orgID] = client
	f.owners[graphName] = orgID

	f.logger.Info("audit",
		"action", "client_created",
		"tenant_id", orgID,
		"graph_name", graphName,
		"ts", time.Now().UTC().Format(time.RFC3339))

	return client, nil
}

// ValidateTenantContext compares the client's embedded orgId with the
// expected one. A mismatch is a cross-tenant access attempt: it is
// audit-logged and fails the operation.
func (f *Factory) ValidateTenantContext(client *graph.Client, expectedOrgID string) error {
	if client == nil {
		return rserr.Validation("nil graph client")
	}
	if client.OrgID() != expectedOrgID {
		f.logger.Error("audit",
			"action", "tenant_context_mismatch",
			"expected_org", expectedOrgID,
			"client_org", client.OrgID(),
			"graph_name", client.Database())
		return rserr.Securityf("tenant context mismatch: client belongs to %s, expected %s",
			client.OrgID(), expectedOrgID)
	}
	return nil
}

// CloseClient drops the org's cached client. The shared driver stays
// open; per-tenant clients hold no connections of their own.
func (f *Factory) CloseClient(orgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[orgID]; ok {
		delete(f.owners, client.Database())
		delete(f.clients, orgID)
		f.logger.Info("tenant client evicted", "tenant_id", orgID)
	}
}

// CloseAll evicts every cached client and closes the shared driver.
func (f *Factory) CloseAll(ctx context.Context) error {
	f.mu.Lock()
	f.clients = make(map[string]*graph.Client)
	f.owners = make(map[string]string)
	f.mu.Unlock()

	if err := f.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close graph driver: %w", err)
	}
	f.logger.Info("tenant factory closed")
	return nil
}

// Stats returns cache statistics for operations tooling.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Stats{CachedClients: len(f.clients)}
	for name := range f.owners {
		s.GraphNames = append(s.GraphNames, name)
	}
	return s
}

// ListCached returns the cache entries for operator listings.
func (f *Factory) ListCached() []CachedClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CachedClient, 0, len(f.clients))
	for orgID, client := range f.clients {
		out = append(out, CachedClient{OrgID: orgID, GraphName: client.Database()})
	}
	return out
}
