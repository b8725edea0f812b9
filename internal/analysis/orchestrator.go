// Package analysis drives one repository analysis end to end: clone,
// graph ingestion, detector run, scoring, persistence and the post-run
// hook handoff. Every step updates the run record so callers can poll
// progress, and any failure lands the run in the failed state with its
// error message instead of leaving it dangling.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reposage/reposage/internal/config"
	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/detect/detectors"
	"github.com/reposage/reposage/internal/enricher"
	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/ingest"
	"github.com/reposage/reposage/internal/jobs"
	"github.com/reposage/reposage/internal/models"
	"github.com/reposage/reposage/internal/parser"
	"github.com/reposage/reposage/internal/querycache"
	"github.com/reposage/reposage/internal/scanner"
	"github.com/reposage/reposage/internal/scoring"
	"github.com/reposage/reposage/internal/store"
)

// GraphProvider hands out tenant-scoped graph clients.
type GraphProvider interface {
	GetClient(ctx context.Context, orgID, slug string) (*graph.Client, error)
	ValidateTenantContext(client *graph.Client, expectedOrgID string) error
}

// RepoCloner materializes a repository at one commit.
type RepoCloner interface {
	CloneAtCommit(ctx context.Context, cloneURL, commitSHA string) (string, func(), error)
}

// Enqueuer is the slice of the job queue the orchestrator needs for
// the hook handoff. Nil disables hooks, which local CLI runs want.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// Request identifies one analysis to run.
type Request struct {
	OrgID       string
	OrgSlug     string
	RepoID      string
	RepoSlug    string
	CloneURL    string
	CommitSHA   string
	FullRebuild bool
	PRNumber    int
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store   store.Store
	graphs  GraphProvider
	cloner  RepoCloner
	queue   Enqueuer
	scanCfg config.ScanConfig
	logger  *slog.Logger
}

func NewOrchestrator(st store.Store, graphs GraphProvider, cloner RepoCloner, queue Enqueuer, scanCfg config.ScanConfig) *Orchestrator {
	return &Orchestrator{
		store:   st,
		graphs:  graphs,
		cloner:  cloner,
		queue:   queue,
		scanCfg: scanCfg,
		logger:  slog.Default().With("component", "analysis"),
	}
}

// Analyze clones the repository at the requested commit and analyzes
// the tree. The returned run is terminal: completed or failed.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*models.AnalysisRun, error) {
	run := o.newRun(req)
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	dir, cleanup, err := o.cloner.CloneAtCommit(ctx, req.CloneURL, req.CommitSHA)
	if err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("clone %s at %s: %w", req.RepoSlug, shortSHA(req.CommitSHA), err))
	}
	defer cleanup()

	return o.analyzeTree(ctx, run, req, dir)
}

// AnalyzeLocal analyzes an already checked-out working tree, the path
// the CLI takes for local repositories.
func (o *Orchestrator) AnalyzeLocal(ctx context.Context, req Request, dir string) (*models.AnalysisRun, error) {
	run := o.newRun(req)
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	return o.analyzeTree(ctx, run, req, dir)
}

func (o *Orchestrator) newRun(req Request) *models.AnalysisRun {
	return &models.AnalysisRun{
		ID:        uuid.New().String(),
		OrgID:     req.OrgID,
		RepoID:    req.RepoID,
		RepoSlug:  req.RepoSlug,
		CommitSHA: req.CommitSHA,
		Status:    models.RunPending,
		CreatedAt: time.Now().UTC(),
	}
}

func (o *Orchestrator) analyzeTree(ctx context.Context, run *models.AnalysisRun, req Request, dir string) (*models.AnalysisRun, error) {
	logger := o.logger.With("run_id", run.ID, "repo", req.RepoSlug)
	started := time.Now()

	if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunRunning, ""); err != nil {
		return run, fmt.Errorf("mark run running: %w", err)
	}
	progress := jobs.ThrottleProgress(func(percent int, step string) {
		if err := o.store.UpdateRunProgress(ctx, run.ID, percent, step); err != nil {
			logger.Warn("progress update failed", "error", err)
		}
	}, 500*time.Millisecond)

	repoCfg, err := config.LoadRepoConfig(dir)
	if err != nil {
		return run, o.fail(ctx, run, req, err)
	}
	scanCfg := repoCfg.Apply(o.scanCfg)

	progress(5, "provision")
	client, err := o.graphs.GetClient(ctx, req.OrgID, req.OrgSlug)
	if err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("acquire tenant graph: %w", err))
	}
	if err := o.graphs.ValidateTenantContext(client, req.OrgID); err != nil {
		return run, o.fail(ctx, run, req, err)
	}

	progress(10, "ingest")
	pipeline := ingest.NewPipeline(client, parser.NewBridge())
	summary, err := pipeline.Ingest(ctx, dir, ingest.Options{
		RepoID:   req.RepoID,
		RepoSlug: req.RepoSlug,
		Scan: scanner.Options{
			Globs:          scanCfg.Globs,
			MaxFileSizeMB:  scanCfg.MaxFileSizeMB,
			FollowSymlinks: scanCfg.FollowSymlinks,
		},
		FullRebuild: req.FullRebuild,
		Progress: func(stage string, done, total int) {
			if total > 0 {
				progress(10+40*done/total, "ingest:"+stage)
			}
		},
	})
	if err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("ingest: %w", err))
	}
	run.FilesAnalyzed = summary.FilesNew + summary.FilesChanged + summary.FilesUnchanged

	progress(55, "index")
	cache, err := querycache.Build(ctx, client, req.RepoID)
	if err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("build query cache: %w", err))
	}

	previous := o.loadPrevious(ctx, req)

	progress(60, "detect")
	engine, err := detect.NewEngine(enabledDetectors(repoCfg))
	if err != nil {
		return run, o.fail(ctx, run, req, err)
	}
	enr := enricher.New(client, req.RepoID)
	input := &detect.Input{
		Cache:    cache,
		RepoID:   req.RepoID,
		RunID:    run.ID,
		Previous: findingsFromRows(previous),
		Flags:    &runFlagger{enr: enr, runID: run.ID},
	}
	if deadline, ok := jobs.SoftDeadline(ctx); ok {
		input.SoftDeadline = deadline
	}
	result, err := engine.Run(ctx, input)
	if err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("detector run: %w", err))
	}
	for name, msg := range result.Failed {
		logger.Warn("detector failed", "detector", name, "error", msg)
	}

	progress(80, "score")
	scores := scoring.Compute(cache, result.Findings)
	run.HealthScore = scores.Health
	run.StructureScore = scores.Structure
	run.QualityScore = scores.Quality
	run.ArchitectureScore = scores.Architecture
	run.FindingsCount = len(result.Findings)
	if prev, err := o.store.LatestCompletedRun(ctx, req.OrgID, req.RepoID); err == nil {
		delta := scoring.Delta(scores.Health, prev.HealthScore)
		run.ScoreDelta = &delta
	}

	progress(85, "persist")
	if err := o.store.SaveFindings(ctx, rowsFromFindings(run.ID, result.Findings)); err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("save findings: %w", err))
	}

	progress(90, "enrich")
	o.writeFlags(ctx, enr, run, result.Findings, logger)

	if err := o.store.CompleteRun(ctx, run); err != nil {
		return run, o.fail(ctx, run, req, fmt.Errorf("complete run: %w", err))
	}
	run.Status = models.RunCompleted
	progress(100, "done")

	o.enqueueHooks(ctx, run, req, logger)

	logger.Info("analysis completed",
		"health", scores.Health,
		"findings", len(result.Findings),
		"files", run.FilesAnalyzed,
		"duration", time.Since(started).Round(time.Millisecond))
	return run, nil
}

// enabledDetectors filters the default set by repository overrides.
func enabledDetectors(rc *config.RepoConfig) []detect.Detector {
	all := detectors.Default()
	if len(rc.DisabledDetectors) == 0 {
		return all
	}
	kept := make([]detect.Detector, 0, len(all))
	for _, d := range all {
		if !rc.Disabled(d.Name()) {
			kept = append(kept, d)
		}
	}
	return kept
}

// loadPrevious fetches the findings of the latest completed run. A
// first run or a storage hiccup yields an empty baseline.
func (o *Orchestrator) loadPrevious(ctx context.Context, req Request) []*models.FindingRow {
	prev, err := o.store.LatestCompletedRun(ctx, req.OrgID, req.RepoID)
	if err != nil {
		return nil
	}
	rows, err := o.store.GetFindings(ctx, prev.ID)
	if err != nil {
		o.logger.Warn("loading previous findings failed", "run_id", prev.ID, "error", err)
		return nil
	}
	return rows
}

// runFlagger mirrors engine findings into the graph mid-run so phase 2
// detectors can query what phase 1 flagged.
type runFlagger struct {
	enr   *enricher.Enricher
	runID string
}

func (r *runFlagger) FlagFinding(ctx context.Context, f detect.Finding) error {
	return r.enr.FlagEntity(ctx, f.Label, f.EntityQN, flagFromFinding(r.runID, f))
}

func (r *runFlagger) FlaggedDetectors(ctx context.Context, label, qualifiedName string) ([]string, error) {
	flags, err := r.enr.GetEntityFlags(ctx, label, qualifiedName)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(flags))
	for _, fl := range flags {
		names = append(names, fl.Detector)
	}
	return names, nil
}

func flagFromFinding(runID string, f detect.Finding) enricher.Flag {
	issues := f.Issues
	if len(issues) == 0 && f.Message != "" {
		issues = []string{f.Message}
	}
	return enricher.Flag{
		ID:         f.ID,
		Detector:   f.Detector,
		RunID:      runID,
		Severity:   f.Severity,
		Confidence: f.Confidence,
		Message:    f.Message,
		Issues:     issues,
		EntityQN:   f.EntityQN,
		Metadata:   f.Metadata,
	}
}

// writeFlags mirrors the findings into the graph as DetectorMetadata
// so graph queries can join structure with verdicts. Re-flagging the
// phase 1 findings the engine already mirrored is an idempotent merge
// on the flag id. Flag failures are logged, the relational store
// already holds the findings.
func (o *Orchestrator) writeFlags(ctx context.Context, enr *enricher.Enricher, run *models.AnalysisRun, findings []detect.Finding, logger *slog.Logger) {
	flagged := 0
	for _, f := range findings {
		if f.Label == "" || f.EntityQN == "" {
			continue
		}
		if err := enr.FlagEntity(ctx, f.Label, f.EntityQN, flagFromFinding(run.ID, f)); err != nil {
			logger.Warn("flag write failed", "detector", f.Detector, "entity", f.EntityQN, "error", err)
			continue
		}
		flagged++
	}
	if missing := enr.MissingEntities(); len(missing) > 0 {
		logger.Warn("findings referenced absent entities", "count", len(missing))
	}
	if removed, err := enr.CleanupMetadata(ctx, run.ID); err != nil {
		logger.Warn("metadata cleanup failed", "error", err)
	} else if removed > 0 {
		logger.Debug("stale detector metadata removed", "count", removed)
	}
	logger.Debug("graph flags written", "count", flagged)
}

func (o *Orchestrator) enqueueHooks(ctx context.Context, run *models.AnalysisRun, req Request, logger *slog.Logger) {
	if o.queue == nil {
		return
	}
	job, err := jobs.NewJob(jobs.TypeRunHooks, req.OrgID, jobs.RunHooksPayload{
		OrgID:    req.OrgID,
		RunID:    run.ID,
		PRNumber: req.PRNumber,
	})
	if err == nil {
		err = o.queue.Enqueue(ctx, job)
	}
	if err != nil {
		logger.Error("hook enqueue failed", "run_id", run.ID, "error", err)
	}
}

// fail records the terminal failure on the run, hands the failed run
// to the hook pipeline and returns the error.
func (o *Orchestrator) fail(ctx context.Context, run *models.AnalysisRun, req Request, cause error) error {
	if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunFailed, cause.Error()); err != nil {
		o.logger.Error("recording run failure failed", "run_id", run.ID, "error", err)
	}
	run.Status = models.RunFailed
	run.ErrorMessage = cause.Error()
	o.enqueueHooks(ctx, run, req, o.logger.With("run_id", run.ID))
	return cause
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
