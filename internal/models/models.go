package models

import (
	"time"
)

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AnalysisRun is the persisted record of one repository analysis.
type AnalysisRun struct {
	ID                string     `db:"id" json:"id"`
	OrgID             string     `db:"org_id" json:"org_id"`
	RepoID            string     `db:"repo_id" json:"repo_id"`
	RepoSlug          string     `db:"repo_slug" json:"repo_slug"`
	CommitSHA         string     `db:"commit_sha" json:"commit_sha"`
	Status            RunStatus  `db:"status" json:"status"`
	HealthScore       float64    `db:"health_score" json:"health_score"`
	StructureScore    float64    `db:"structure_score" json:"structure_score"`
	QualityScore      float64    `db:"quality_score" json:"quality_score"`
	ArchitectureScore float64    `db:"architecture_score" json:"architecture_score"`
	FindingsCount     int        `db:"findings_count" json:"findings_count"`
	FilesAnalyzed     int        `db:"files_analyzed" json:"files_analyzed"`
	ScoreDelta        *float64   `db:"score_delta" json:"score_delta,omitempty"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ProgressPercent   int        `db:"progress_percent" json:"progress_percent"`
	CurrentStep       string     `db:"current_step" json:"current_step"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// FindingRow is the persisted form of a detector finding.
// GraphContext and CollabMeta are stored as JSON-encoded strings so
// detector evolution never forces a schema migration.
type FindingRow struct {
	ID              string `db:"id" json:"id"`
	AnalysisRunID   string `db:"analysis_run_id" json:"analysis_run_id"`
	Detector        string `db:"detector" json:"detector"`
	Severity        string `db:"severity" json:"severity"`
	Title           string `db:"title" json:"title"`
	Description     string `db:"description" json:"description"`
	Files           string `db:"files" json:"files"` // JSON array of paths
	LineStart       *int   `db:"line_start" json:"line_start,omitempty"`
	LineEnd         *int   `db:"line_end" json:"line_end,omitempty"`
	SuggestedFix    string `db:"suggested_fix" json:"suggested_fix"`
	EstimatedEffort string `db:"estimated_effort" json:"estimated_effort"`
	GraphContext    string `db:"graph_context" json:"graph_context"`
	CollabMeta      string `db:"collab_meta" json:"collab_meta"`
}

// Organization holds per-tenant settings consulted by post-run hooks.
type Organization struct {
	ID                   string    `db:"id" json:"id"`
	Slug                 string    `db:"slug" json:"slug"`
	OwnerEmail           string    `db:"owner_email" json:"owner_email"`
	InstallationToken    string    `db:"installation_token" json:"-"`
	RegressionThreshold  float64   `db:"regression_threshold" json:"regression_threshold"`
	NotifyOnComplete     bool      `db:"notify_on_complete" json:"notify_on_complete"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// WebhookEndpoint is a customer-configured delivery target for analysis
// events, signed with its own secret.
type WebhookEndpoint struct {
	ID     string `db:"id" json:"id"`
	OrgID  string `db:"org_id" json:"org_id"`
	URL    string `db:"url" json:"url"`
	Secret string `db:"secret" json:"-"`
	Active bool   `db:"active" json:"active"`
}

// Repository identifies one analyzed repository within a tenant.
type Repository struct {
	ID            string    `db:"id" json:"id"`
	OrgID         string    `db:"org_id" json:"org_id"`
	Slug          string    `db:"slug" json:"slug"`
	CloneURL      string    `db:"clone_url" json:"clone_url"`
	DefaultBranch string    `db:"default_branch" json:"default_branch"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
