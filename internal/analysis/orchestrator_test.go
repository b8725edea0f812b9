package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/config"
	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/models"
	"github.com/reposage/reposage/internal/store"
)

func TestFindingRowRoundTrip(t *testing.T) {
	findings := []detect.Finding{
		{
			ID:              "f1",
			Detector:        "complexity",
			Category:        "quality",
			Severity:        "high",
			Confidence:      0.9,
			Message:         "complexity 20 in load",
			Description:     "load has 20 independent paths",
			SuggestedFix:    "extract the deepest branches into helper functions",
			EstimatedEffort: "large",
			Issues:          []string{"complexity: complexity 20 in load"},
			Label:           "Function",
			EntityQN:        "src/app.py::load",
			FilePath:        "src/app.py",
			Line:            42,
			Metadata:        map[string]any{"complexity": float64(20)},
		},
		{
			ID:       "f2",
			Detector: "missing_tests",
			Category: "quality",
			Severity: "medium",
			Message:  "no test files found",
		},
	}

	rows := rowsFromFindings("run-1", findings)
	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0].AnalysisRunID)
	assert.Equal(t, `["src/app.py"]`, rows[0].Files)
	assert.Equal(t, "load has 20 independent paths", rows[0].Description)
	assert.Equal(t, "extract the deepest branches into helper functions", rows[0].SuggestedFix)
	assert.Equal(t, "large", rows[0].EstimatedEffort)
	require.NotNil(t, rows[0].LineStart)
	assert.Equal(t, 42, *rows[0].LineStart)
	assert.Nil(t, rows[1].LineStart)
	assert.Equal(t, `[]`, rows[1].Files)

	back := findingsFromRows(rows)
	require.Len(t, back, 2)
	assert.Equal(t, findings[0].EntityQN, back[0].EntityQN)
	assert.Equal(t, findings[0].Label, back[0].Label)
	assert.Equal(t, findings[0].Category, back[0].Category)
	assert.Equal(t, findings[0].Confidence, back[0].Confidence)
	assert.Equal(t, findings[0].Issues, back[0].Issues)
	assert.Equal(t, findings[0].Description, back[0].Description)
	assert.Equal(t, findings[0].SuggestedFix, back[0].SuggestedFix)
	assert.Equal(t, findings[0].EstimatedEffort, back[0].EstimatedEffort)
	assert.Equal(t, findings[0].FilePath, back[0].FilePath)
	assert.Equal(t, findings[0].Line, back[0].Line)
	assert.Equal(t, findings[0].Metadata, back[0].Metadata)
	assert.Equal(t, findings[1].Detector, back[1].Detector)
	assert.Empty(t, back[1].FilePath)
}

func TestFindingsFromRowsToleratesBadContext(t *testing.T) {
	rows := []*models.FindingRow{
		{ID: "f1", Detector: "complexity", Severity: "high", Title: "t",
			Files: "not json", GraphContext: "also not json"},
	}
	back := findingsFromRows(rows)
	require.Len(t, back, 1)
	assert.Equal(t, "complexity", back[0].Detector)
	assert.Empty(t, back[0].EntityQN)
}

// runRecorder captures run state transitions.
type runRecorder struct {
	store.Store
	created  *models.AnalysisRun
	statuses []models.RunStatus
	errorMsg string
}

func (r *runRecorder) CreateRun(ctx context.Context, run *models.AnalysisRun) error {
	r.created = run
	return nil
}

func (r *runRecorder) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	r.statuses = append(r.statuses, status)
	if errMsg != "" {
		r.errorMsg = errMsg
	}
	return nil
}

func (r *runRecorder) UpdateRunProgress(ctx context.Context, id string, percent int, step string) error {
	return nil
}

type failingCloner struct{}

func (failingCloner) CloneAtCommit(ctx context.Context, url, sha string) (string, func(), error) {
	return "", func() {}, errors.New("remote unreachable")
}

func TestAnalyzeCloneFailureMarksRunFailed(t *testing.T) {
	rec := &runRecorder{}
	o := NewOrchestrator(rec, nil, failingCloner{}, nil, configScan())

	run, err := o.Analyze(context.Background(), Request{
		OrgID: "org-1", RepoID: "repo-1", RepoSlug: "acme/api",
		CloneURL: "https://example.test/x.git", CommitSHA: "abc123",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unreachable")

	require.NotNil(t, rec.created)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "clone acme/api")
	assert.Equal(t, []models.RunStatus{models.RunFailed}, rec.statuses)
}

type failingGraphs struct{}

func (failingGraphs) GetClient(ctx context.Context, orgID, slug string) (*graph.Client, error) {
	return nil, errors.New("tenant database missing")
}

func (failingGraphs) ValidateTenantContext(client *graph.Client, expectedOrgID string) error {
	return nil
}

func TestAnalyzeLocalProvisionFailureMarksRunFailed(t *testing.T) {
	rec := &runRecorder{}
	o := NewOrchestrator(rec, failingGraphs{}, nil, nil, configScan())

	run, err := o.AnalyzeLocal(context.Background(), Request{
		OrgID: "org-1", RepoID: "repo-1", RepoSlug: "acme/api", CommitSHA: "abc123",
	}, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, rec.errorMsg, "tenant database missing")
	// running first, then failed
	assert.Equal(t, []models.RunStatus{models.RunRunning, models.RunFailed}, rec.statuses)
}

func configScan() config.ScanConfig {
	return config.ScanConfig{Globs: []string{"**/*.py"}, MaxFileSizeMB: 10}
}
