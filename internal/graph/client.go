package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	rserr "github.com/reposage/reposage/internal/errors"
)

// RetryConfig controls adapter-level retries for transient faults.
// Delay follows base * factor^attempt with up to 20% jitter.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryConfig matches the batch-load profile: three extra
// attempts starting at 250ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, Factor: 2.0}
}

// Features exposes backend capabilities so upper layers adapt without
// branching on the backend name.
type Features struct {
	SupportsTemporalTypes  bool
	SupportsConstraints    bool
	SupportsFullTextIndex  bool
	ExplicitDatabaseCreate bool // CREATE DATABASE needed before first write
}

// Querier is the read/write query surface the cache, enricher and
// pipeline depend on. *Client implements it; tests substitute fakes.
type Querier interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Client is a tenant-scoped handle over the property-graph backend.
// One Client maps to exactly one tenant graph (database); the orgId it
// was created for is embedded for cross-tenant validation.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	orgID    string
	features Features
	retry    RetryConfig
	timeout  time.Duration
	logger   *slog.Logger

	// ownsDriver is false for clients that share a driver managed by
	// the tenant factory; Close is then a no-op on the driver.
	ownsDriver bool
}

// NewClient connects a driver and binds it to a tenant database.
func NewClient(ctx context.Context, uri, user, password, database, orgID string) (*Client, error) {
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

	logger := slog.Default().With("component", "graph", "database", database)
	logger.Info("graph client connected", "uri", uri, "user", user)

	return &Client{
		driver:     driver,
		database:   database,
		orgID:      orgID,
		features:   neo4jFeatures(),
		retry:      DefaultRetryConfig(),
		timeout:    60 * time.Second,
		logger:     logger,
		ownsDriver: true,
	}, nil
}

// NewClientWithDriver binds an already-connected driver to a tenant
// database. The tenant factory uses this so all tenant graphs share one
// connection pool.
func NewClientWithDriver(driver neo4j.DriverWithContext, database, orgID string) *Client {
	return &Client{
		driver:   driver,
		database: database,
		orgID:    orgID,
		features: neo4jFeatures(),
		retry:    DefaultRetryConfig(),
		timeout:  60 * time.Second,
		logger:   slog.Default().With("component", "graph", "database", database),
	}
}

func neo4jFeatures() Features {
	return Features{
		SupportsTemporalTypes:  true,
		SupportsConstraints:    true,
		SupportsFullTextIndex:  true,
		ExplicitDatabaseCreate: true,
	}
}

// OrgID returns the tenant the client was created for.
func (c *Client) OrgID() string { return c.orgID }

// Database returns the tenant graph name the client is bound to.
func (c *Client) Database() string { return c.database }

// Features returns backend capability flags.
func (c *Client) Features() Features { return c.features }

// Driver exposes the underlying driver for factory-level operations
// (database create/drop) that run outside a tenant scope.
func (c *Client) Driver() neo4j.DriverWithContext { return c.driver }

// Close releases the underlying driver when this client owns it.
func (c *Client) Close(ctx context.Context) error {
	if !c.ownsDriver {
		return nil
	}
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close graph driver: %w", err)
	}
	c.logger.Info("graph client closed")
	return nil
}

// HealthCheck verifies backend connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return rserr.Transient(err, "graph health check failed")
	}
	return nil
}

// ExecuteQuery runs a parameterized query against the tenant database
// and returns homogeneous row maps. Transient faults are retried with
// exponential backoff; permanent faults propagate after the first
// failure.
func (c *Client) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return c.ExecuteQueryWithTimeout(ctx, query, params, c.timeout)
}

// ExecuteQueryWithTimeout is ExecuteQuery with a per-call deadline.
func (c *Client) ExecuteQueryWithTimeout(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	var rows []map[string]any
	err := c.withRetry(ctx, "query", func(attemptCtx context.Context) error {
		queryCtx := attemptCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			queryCtx, cancel = context.WithTimeout(attemptCtx, timeout)
			defer cancel()
		}

		result, err := neo4j.ExecuteQuery(queryCtx, c.driver, query, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(c.database))
		if err != nil {
			return err
		}

		rows = rows[:0]
		for _, record := range result.Records {
			rows = append(rows, record.AsMap())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecuteWrite runs a write statement with the same retry policy and
// returns the count of affected rows when the statement yields one.
func (c *Client) ExecuteWrite(ctx context.Context, query string, params map[string]any) (int64, error) {
	rows, err := c.ExecuteQuery(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, key := range []string{"removed", "created", "count"} {
		if v, ok := rows[0][key]; ok {
			if n, ok := v.(int64); ok {
				return n, nil
			}
		}
	}
	return 0, nil
}

// withRetry applies the adapter retry policy around one operation.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retry, attempt-1)
			c.logger.Warn("retrying graph operation",
				"op", op, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return rserr.Permanent(err, fmt.Sprintf("graph %s failed", op))
		}
	}
	return rserr.Transient(lastErr, fmt.Sprintf("graph %s failed after %d attempts", op, c.retry.MaxAttempts))
}

// backoffDelay computes base * factor^attempt with up to 20% jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Factor
	}
	jitter := 1 + 0.2*(rand.Float64()*2-1)
	return time.Duration(delay * jitter)
}
