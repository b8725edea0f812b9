package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/reposage/reposage/internal/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the schema.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	_, err := s.db.Exec(pgSchema)
	return err
}

const pgSchema = `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		owner_email TEXT NOT NULL DEFAULT '',
		installation_token TEXT NOT NULL DEFAULT '',
		regression_threshold DOUBLE PRECISION NOT NULL DEFAULT 10,
		notify_on_complete BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL REFERENCES organizations(id),
		slug TEXT NOT NULL,
		clone_url TEXT NOT NULL DEFAULT '',
		default_branch TEXT NOT NULL DEFAULT 'main',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS analysis_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		repo_slug TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		health_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		structure_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		architecture_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		findings_count INTEGER NOT NULL DEFAULT 0,
		files_analyzed INTEGER NOT NULL DEFAULT 0,
		score_delta DOUBLE PRECISION,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_runs_repo ON analysis_runs(repo_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON analysis_runs(status);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		analysis_run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
		detector TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL DEFAULT '[]',
		line_start INTEGER,
		line_end INTEGER,
		suggested_fix TEXT NOT NULL DEFAULT '',
		estimated_effort TEXT NOT NULL DEFAULT '',
		graph_context TEXT NOT NULL DEFAULT '{}',
		collab_meta TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(analysis_run_id);

	CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL REFERENCES organizations(id),
		url TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
`

// Run lifecycle

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.AnalysisRun) error {
	query := `
		INSERT INTO analysis_runs (id, org_id, repo_id, repo_slug, commit_sha, status,
			progress_percent, current_step, created_at)
		VALUES (:id, :org_id, :repo_id, :repo_slug, :commit_sha, :status,
			:progress_percent, :current_step, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMessage string) error {
	query := `
		UPDATE analysis_runs SET
			status = $2,
			error_message = $3,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, id string, percent int, step string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET progress_percent = $2, current_step = $3 WHERE id = $1`,
		id, percent, step)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *models.AnalysisRun) error {
	query := `
		UPDATE analysis_runs SET
			status = 'completed',
			health_score = :health_score,
			structure_score = :structure_score,
			quality_score = :quality_score,
			architecture_score = :architecture_score,
			findings_count = :findings_count,
			files_analyzed = :files_analyzed,
			score_delta = :score_delta,
			progress_percent = 100,
			current_step = 'done',
			completed_at = now()
		WHERE id = :id
	`
	res, err := s.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LatestCompletedRun(ctx context.Context, orgID, repoID string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM analysis_runs
		WHERE org_id = $1 AND repo_id = $2 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`, orgID, repoID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest completed run: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, repoID string, limit int) ([]*models.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*models.AnalysisRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT * FROM analysis_runs
		WHERE repo_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Findings

func (s *PostgresStore) SaveFindings(ctx context.Context, findings []*models.FindingRow) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO findings (id, analysis_run_id, detector, severity, title, description,
			files, line_start, line_end, suggested_fix, estimated_effort, graph_context, collab_meta)
		VALUES (:id, :analysis_run_id, :detector, :severity, :title, :description,
			:files, :line_start, :line_end, :suggested_fix, :estimated_effort, :graph_context, :collab_meta)
		ON CONFLICT (id) DO NOTHING
	`
	for _, f := range findings {
		if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
			return fmt.Errorf("save finding: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetFindings(ctx context.Context, runID string) ([]*models.FindingRow, error) {
	var findings []*models.FindingRow
	err := s.db.SelectContext(ctx, &findings, `
		SELECT * FROM findings WHERE analysis_run_id = $1
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4
		END, detector, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get findings: %w", err)
	}
	return findings, nil
}

// Organizations

func (s *PostgresStore) SaveOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, slug, owner_email, installation_token,
			regression_threshold, notify_on_complete, created_at)
		VALUES (:id, :slug, :owner_email, :installation_token,
			:regression_threshold, :notify_on_complete, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			owner_email = EXCLUDED.owner_email,
			installation_token = EXCLUDED.installation_token,
			regression_threshold = EXCLUDED.regression_threshold,
			notify_on_complete = EXCLUDED.notify_on_complete
	`
	if _, err := s.db.NamedExecContext(ctx, query, org); err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.GetContext(ctx, &org, `SELECT * FROM organizations WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// Repositories

func (s *PostgresStore) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
		INSERT INTO repositories (id, org_id, slug, clone_url, default_branch, created_at)
		VALUES (:id, :org_id, :slug, :clone_url, :default_branch, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			clone_url = EXCLUDED.clone_url,
			default_branch = EXCLUDED.default_branch
	`
	if _, err := s.db.NamedExecContext(ctx, query, repo); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &repo, nil
}

// Webhook endpoints

func (s *PostgresStore) SaveWebhook(ctx context.Context, hook *models.WebhookEndpoint) error {
	query := `
		INSERT INTO webhook_endpoints (id, org_id, url, secret, active)
		VALUES (:id, :org_id, :url, :secret, :active)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			secret = EXCLUDED.secret,
			active = EXCLUDED.active
	`
	if _, err := s.db.NamedExecContext(ctx, query, hook); err != nil {
		return fmt.Errorf("save webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context, orgID string) ([]*models.WebhookEndpoint, error) {
	var hooks []*models.WebhookEndpoint
	err := s.db.SelectContext(ctx, &hooks,
		`SELECT * FROM webhook_endpoints WHERE org_id = $1 AND active = TRUE`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

// Compile-time interface compliance check.
var _ Store = (*PostgresStore)(nil)
