// Package hooks runs the notification fan-out after an analysis run
// reaches a terminal state: signed webhooks to customer endpoints,
// pull request comments and check runs on GitHub, and regression
// alerts when the health score drops past the tenant's threshold.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reposage/reposage/internal/jobs"
	"github.com/reposage/reposage/internal/models"
	"github.com/reposage/reposage/internal/store"
)

// Event names carried in webhook payloads and headers.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRegression   = "run.regression"
)

// defaultRegressionThreshold applies when the tenant never set one.
const defaultRegressionThreshold = 10.0

// Enqueuer is the slice of the job queue the runner needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// GitHubFactory builds a tenant-scoped GitHub client from the
// organization's installation token. Nil tokens disable GitHub
// notifications for the tenant.
type GitHubFactory func(token string) *GitHubClient

// Runner executes post-run hooks.
type Runner struct {
	store  store.Store
	queue  Enqueuer
	github GitHubFactory
	logger *slog.Logger
}

func NewRunner(st store.Store, queue Enqueuer, github GitHubFactory) *Runner {
	if github == nil {
		github = NewGitHubClient
	}
	return &Runner{
		store:  st,
		queue:  queue,
		github: github,
		logger: slog.Default().With("component", "hooks"),
	}
}

// RunEvent is the webhook body for terminal run states.
type RunEvent struct {
	Event             string    `json:"event"`
	OrgID             string    `json:"org_id"`
	RunID             string    `json:"run_id"`
	RepoSlug          string    `json:"repo_slug"`
	CommitSHA         string    `json:"commit_sha"`
	Status            string    `json:"status"`
	HealthScore       float64   `json:"health_score"`
	StructureScore    float64   `json:"structure_score"`
	QualityScore      float64   `json:"quality_score"`
	ArchitectureScore float64   `json:"architecture_score"`
	ScoreDelta        *float64  `json:"score_delta,omitempty"`
	FindingsCount     int       `json:"findings_count"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Run dispatches all hooks for a finished run. Individual hook
// failures are logged and do not block the others; only the webhook
// enqueue path can return an error, since losing deliveries silently
// would defeat the retry budget.
func (r *Runner) Run(ctx context.Context, payload *jobs.RunHooksPayload) error {
	run, err := r.store.GetRun(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", payload.RunID, err)
	}
	org, err := r.store.GetOrganization(ctx, run.OrgID)
	if err != nil {
		return fmt.Errorf("load organization %s: %w", run.OrgID, err)
	}

	event := r.classify(run, org)
	body := r.eventBody(run, event)

	if err := r.fanOutWebhooks(ctx, org, event, body); err != nil {
		return err
	}

	if run.Status == models.RunCompleted && payload.PRNumber > 0 {
		r.notifyPullRequest(ctx, run, org, payload.PRNumber)
	}
	return nil
}

// classify decides which event a terminal run produces. A completed
// run whose health score dropped past the tenant threshold is a
// regression, which always notifies; plain completions notify only
// when the tenant opted in.
func (r *Runner) classify(run *models.AnalysisRun, org *models.Organization) string {
	if run.Status == models.RunFailed {
		return EventRunFailed
	}
	threshold := org.RegressionThreshold
	if threshold <= 0 {
		threshold = defaultRegressionThreshold
	}
	if run.ScoreDelta != nil && *run.ScoreDelta <= -threshold {
		return EventRegression
	}
	return EventRunCompleted
}

func (r *Runner) eventBody(run *models.AnalysisRun, event string) []byte {
	body, _ := json.Marshal(RunEvent{
		Event:             event,
		OrgID:             run.OrgID,
		RunID:             run.ID,
		RepoSlug:          run.RepoSlug,
		CommitSHA:         run.CommitSHA,
		Status:            string(run.Status),
		HealthScore:       run.HealthScore,
		StructureScore:    run.StructureScore,
		QualityScore:      run.QualityScore,
		ArchitectureScore: run.ArchitectureScore,
		ScoreDelta:        run.ScoreDelta,
		FindingsCount:     run.FindingsCount,
		ErrorMessage:      run.ErrorMessage,
		Timestamp:         time.Now().UTC(),
	})
	return body
}

// fanOutWebhooks enqueues one delivery job per active endpoint. Plain
// completion events are skipped when the tenant did not opt in;
// regressions and failures always go out.
func (r *Runner) fanOutWebhooks(ctx context.Context, org *models.Organization, event string, body []byte) error {
	if event == EventRunCompleted && !org.NotifyOnComplete {
		return nil
	}

	endpoints, err := r.store.ListActiveWebhooks(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("list webhooks for %s: %w", org.ID, err)
	}
	for _, ep := range endpoints {
		job, err := jobs.NewJob(jobs.TypeDeliverWebhook, org.ID, jobs.DeliverWebhookPayload{
			EndpointID: ep.ID,
			OrgID:      org.ID,
			Event:      event,
			Body:       body,
		})
		if err != nil {
			return err
		}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue webhook delivery to %s: %w", ep.ID, err)
		}
	}
	r.logger.Info("webhook deliveries enqueued", "event", event, "endpoints", len(endpoints))
	return nil
}

func (r *Runner) notifyPullRequest(ctx context.Context, run *models.AnalysisRun, org *models.Organization, prNumber int) {
	if org.InstallationToken == "" {
		r.logger.Warn("no installation token, skipping PR notification",
			"org_id", org.ID, "run_id", run.ID)
		return
	}
	gh := r.github(org.InstallationToken)

	findings, err := r.store.GetFindings(ctx, run.ID)
	if err != nil {
		r.logger.Warn("loading findings for PR comment failed", "run_id", run.ID, "error", err)
		findings = nil
	}

	comment := FormatPRComment(run, findings)
	if err := gh.PostPRComment(ctx, run.RepoSlug, prNumber, comment); err != nil {
		r.logger.Warn("PR comment failed", "run_id", run.ID, "pr", prNumber, "error", err)
	}

	conclusion, title := checkOutcome(run, org)
	summary := FormatCheckSummary(run)
	if err := gh.PostCheckRun(ctx, run.RepoSlug, run.CommitSHA, conclusion, title, summary); err != nil {
		r.logger.Warn("check run failed", "run_id", run.ID, "error", err)
	}
}

// checkOutcome maps a run onto a check conclusion: regressions fail
// the check, score drops inside the threshold are neutral, everything
// else succeeds.
func checkOutcome(run *models.AnalysisRun, org *models.Organization) (conclusion, title string) {
	threshold := org.RegressionThreshold
	if threshold <= 0 {
		threshold = defaultRegressionThreshold
	}
	switch {
	case run.ScoreDelta != nil && *run.ScoreDelta <= -threshold:
		return "failure", fmt.Sprintf("Health score dropped %.1f points", -*run.ScoreDelta)
	case run.ScoreDelta != nil && *run.ScoreDelta < 0:
		return "neutral", fmt.Sprintf("Health score dipped %.1f points", -*run.ScoreDelta)
	default:
		return "success", fmt.Sprintf("Health score %.1f", run.HealthScore)
	}
}

// maxCommentFindings caps how many findings the PR comment lists.
const maxCommentFindings = 5

// FormatPRComment renders the markdown summary posted on a pull
// request. Findings arrive already ordered by severity.
func FormatPRComment(run *models.AnalysisRun, findings []*models.FindingRow) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("## Code Health: %.1f/100", run.HealthScore))
	if run.ScoreDelta != nil {
		switch {
		case *run.ScoreDelta > 0:
			b.WriteString(fmt.Sprintf(" (+%.1f)", *run.ScoreDelta))
		case *run.ScoreDelta < 0:
			b.WriteString(fmt.Sprintf(" (%.1f)", *run.ScoreDelta))
		}
	}
	b.WriteString("\n\n")

	b.WriteString("| Category | Score |\n|---|---|\n")
	b.WriteString(fmt.Sprintf("| Structure | %.1f |\n", run.StructureScore))
	b.WriteString(fmt.Sprintf("| Quality | %.1f |\n", run.QualityScore))
	b.WriteString(fmt.Sprintf("| Architecture | %.1f |\n", run.ArchitectureScore))
	b.WriteString("\n")

	if len(findings) == 0 {
		b.WriteString("No findings.\n")
	} else {
		shown := findings
		if len(shown) > maxCommentFindings {
			shown = shown[:maxCommentFindings]
		}
		b.WriteString(fmt.Sprintf("**Top findings** (%d total):\n\n", len(findings)))
		for _, f := range shown {
			b.WriteString(fmt.Sprintf("- `%s` **%s**: %s\n", f.Severity, f.Detector, f.Title))
		}
		if len(findings) > maxCommentFindings {
			b.WriteString(fmt.Sprintf("\n…and %d more.\n", len(findings)-maxCommentFindings))
		}
	}

	b.WriteString(fmt.Sprintf("\n<sub>reposage analysis of `%s` at %s</sub>\n",
		run.RepoSlug, shortSHA(run.CommitSHA)))
	return b.String()
}

// FormatCheckSummary renders the check run output body.
func FormatCheckSummary(run *models.AnalysisRun) string {
	return fmt.Sprintf(
		"Health %.1f | Structure %.1f | Quality %.1f | Architecture %.1f | %d findings across %d files",
		run.HealthScore, run.StructureScore, run.QualityScore, run.ArchitectureScore,
		run.FindingsCount, run.FilesAnalyzed)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
