// Package store persists run state, findings and tenant settings in a
// relational database. Postgres backs the hosted service; SQLite backs
// local single-user runs.
package store

import (
	"context"
	"errors"

	"github.com/reposage/reposage/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the relational storage interface.
type Store interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *models.AnalysisRun) error
	GetRun(ctx context.Context, id string) (*models.AnalysisRun, error)
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMessage string) error
	UpdateRunProgress(ctx context.Context, id string, percent int, step string) error
	CompleteRun(ctx context.Context, run *models.AnalysisRun) error
	LatestCompletedRun(ctx context.Context, orgID, repoID string) (*models.AnalysisRun, error)
	ListRuns(ctx context.Context, repoID string, limit int) ([]*models.AnalysisRun, error)

	// Findings
	SaveFindings(ctx context.Context, findings []*models.FindingRow) error
	GetFindings(ctx context.Context, runID string) ([]*models.FindingRow, error)

	// Organizations
	SaveOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)

	// Repositories
	SaveRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)

	// Webhook endpoints
	SaveWebhook(ctx context.Context, hook *models.WebhookEndpoint) error
	ListActiveWebhooks(ctx context.Context, orgID string) ([]*models.WebhookEndpoint, error)

	// Close connection
	Close() error
}
