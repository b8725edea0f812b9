package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/reposage/reposage/internal/models"
)

// SQLiteStore implements Store using SQLite, for local and
// single-operator deployments.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the SQLite database.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		owner_email TEXT NOT NULL DEFAULT '',
		installation_token TEXT NOT NULL DEFAULT '',
		regression_threshold REAL NOT NULL DEFAULT 10,
		notify_on_complete INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		clone_url TEXT NOT NULL DEFAULT '',
		default_branch TEXT NOT NULL DEFAULT 'main',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (org_id) REFERENCES organizations(id)
	);

	CREATE TABLE IF NOT EXISTS analysis_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		repo_slug TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		health_score REAL NOT NULL DEFAULT 0,
		structure_score REAL NOT NULL DEFAULT 0,
		quality_score REAL NOT NULL DEFAULT 0,
		architecture_score REAL NOT NULL DEFAULT 0,
		findings_count INTEGER NOT NULL DEFAULT 0,
		files_analyzed INTEGER NOT NULL DEFAULT 0,
		score_delta REAL,
		started_at DATETIME,
		completed_at DATETIME,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_repo ON analysis_runs(repo_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		analysis_run_id TEXT NOT NULL,
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
		collab_meta TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (analysis_run_id) REFERENCES analysis_runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(analysis_run_id);

	CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (org_id) REFERENCES organizations(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run lifecycle

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.AnalysisRun) error {
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

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMessage string) error {
	query := `
		UPDATE analysis_runs SET
			status = ?,
			error_message = ?,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN CURRENT_TIMESTAMP ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, string(status), errorMessage, string(status), string(status), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, id string, percent int, step string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET progress_percent = ?, current_step = ? WHERE id = ?`,
		percent, step, id)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *models.AnalysisRun) error {
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
			completed_at = CURRENT_TIMESTAMP
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

func (s *SQLiteStore) LatestCompletedRun(ctx context.Context, orgID, repoID string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM analysis_runs
		WHERE org_id = ? AND repo_id = ? AND status = 'completed'
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

func (s *SQLiteStore) ListRuns(ctx context.Context, repoID string, limit int) ([]*models.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*models.AnalysisRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT * FROM analysis_runs
		WHERE repo_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Findings

func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []*models.FindingRow) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR IGNORE INTO findings (id, analysis_run_id, detector, severity, title, description,
			files, line_start, line_end, suggested_fix, estimated_effort, graph_context, collab_meta)
		VALUES (:id, :analysis_run_id, :detector, :severity, :title, :description,
			:files, :line_start, :line_end, :suggested_fix, :estimated_effort, :graph_context, :collab_meta)
	`
	for _, f := range findings {
		if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
			return fmt.Errorf("save finding: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFindings(ctx context.Context, runID string) ([]*models.FindingRow, error) {
	var findings []*models.FindingRow
	err := s.db.SelectContext(ctx, &findings, `
		SELECT * FROM findings WHERE analysis_run_id = ?
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

func (s *SQLiteStore) SaveOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, slug, owner_email, installation_token,
			regression_threshold, notify_on_complete, created_at)
		VALUES (:id, :slug, :owner_email, :installation_token,
			:regression_threshold, :notify_on_complete, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			owner_email = excluded.owner_email,
			installation_token = excluded.installation_token,
			regression_threshold = excluded.regression_threshold,
			notify_on_complete = excluded.notify_on_complete
	`
	if _, err := s.db.NamedExecContext(ctx, query, org); err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.GetContext(ctx, &org, `SELECT * FROM organizations WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// Repositories

func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
		INSERT INTO repositories (id, org_id, slug, clone_url, default_branch, created_at)
		VALUES (:id, :org_id, :slug, :clone_url, :default_branch, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			clone_url = excluded.clone_url,
			default_branch = excluded.default_branch
	`
	if _, err := s.db.NamedExecContext(ctx, query, repo); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &repo, nil
}

// Webhook endpoints

func (s *SQLiteStore) SaveWebhook(ctx context.Context, hook *models.WebhookEndpoint) error {
	query := `
		INSERT INTO webhook_endpoints (id, org_id, url, secret, active)
		VALUES (:id, :org_id, :url, :secret, :active)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			secret = excluded.secret,
			active = excluded.active
	`
	if _, err := s.db.NamedExecContext(ctx, query, hook); err != nil {
		return fmt.Errorf("save webhook: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveWebhooks(ctx context.Context, orgID string) ([]*models.WebhookEndpoint, error) {
	var hooks []*models.WebhookEndpoint
	err := s.db.SelectContext(ctx, &hooks,
		`SELECT * FROM webhook_endpoints WHERE org_id = ? AND active = 1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

// Compile-time interface compliance check.
var _ Store = (*SQLiteStore)(nil)
