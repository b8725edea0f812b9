package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reposage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(id string) *models.AnalysisRun {
	return &models.AnalysisRun{
		ID:        id,
		OrgID:     "org-1",
		RepoID:    "repo-1",
		RepoSlug:  "acme/api",
		CommitSHA: "abc123",
		Status:    models.RunPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1")))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", models.RunRunning, ""))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateRunProgress(ctx, "run-1", 40, "detecting"))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProgressPercent)
	assert.Equal(t, "detecting", got.CurrentStep)

	delta := -3.5
	got.HealthScore = 82.5
	got.StructureScore = 90
	got.QualityScore = 78
	got.ArchitectureScore = 80
	got.FindingsCount = 7
	got.FilesAnalyzed = 42
	got.ScoreDelta = &delta
	require.NoError(t, s.CompleteRun(ctx, got))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 82.5, got.HealthScore)
	assert.Equal(t, 100, got.ProgressPercent)
	require.NotNil(t, got.ScoreDelta)
	assert.Equal(t, -3.5, *got.ScoreDelta)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunFailureRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1")))
	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", models.RunFailed, "clone failed: not found"))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, "clone failed: not found", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRunStatus(context.Background(), "nope", models.RunRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestCompletedRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestCompletedRun(ctx, "org-1", "repo-1")
	assert.ErrorIs(t, err, ErrNotFound)

	first := newRun("run-1")
	require.NoError(t, s.CreateRun(ctx, first))
	first.HealthScore = 70
	require.NoError(t, s.CompleteRun(ctx, first))

	time.Sleep(1100 * time.Millisecond) // CURRENT_TIMESTAMP has 1s granularity

	second := newRun("run-2")
	require.NoError(t, s.CreateRun(ctx, second))
	second.HealthScore = 80
	require.NoError(t, s.CompleteRun(ctx, second))

	// A pending run never wins.
	require.NoError(t, s.CreateRun(ctx, newRun("run-3")))

	latest, err := s.LatestCompletedRun(ctx, "org-1", "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, 80.0, latest.HealthScore)
}

func TestFindingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1")))

	line := 10
	findings := []*models.FindingRow{
		{ID: "f1", AnalysisRunID: "run-1", Detector: "complexity", Severity: "high",
			Title: "complexity 20", Files: `["a.py"]`, LineStart: &line,
			GraphContext: `{"complexity":20}`, CollabMeta: `{}`},
		{ID: "f2", AnalysisRunID: "run-1", Detector: "dead_symbol", Severity: "low",
			Title: "unused", Files: `["b.py"]`, GraphContext: `{}`, CollabMeta: `{}`},
		{ID: "f3", AnalysisRunID: "run-1", Detector: "hotspot", Severity: "critical",
			Title: "hotspot", Files: `["a.py"]`, GraphContext: `{}`, CollabMeta: `{}`},
	}
	require.NoError(t, s.SaveFindings(ctx, findings))

	// Idempotent replay.
	require.NoError(t, s.SaveFindings(ctx, findings))

	got, err := s.GetFindings(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Severity ordering: critical first, low last.
	assert.Equal(t, "f3", got[0].ID)
	assert.Equal(t, "f1", got[1].ID)
	assert.Equal(t, "f2", got[2].ID)
	require.NotNil(t, got[1].LineStart)
	assert.Equal(t, 10, *got[1].LineStart)
}

func TestOrganizationSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := &models.Organization{
		ID:                  "org-1",
		Slug:                "acme",
		OwnerEmail:          "dev@acme.test",
		RegressionThreshold: 10,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, s.SaveOrganization(ctx, org))

	org.RegressionThreshold = 5
	org.NotifyOnComplete = true
	require.NoError(t, s.SaveOrganization(ctx, org))

	got, err := s.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.RegressionThreshold)
	assert.True(t, got.NotifyOnComplete)
}

func TestWebhookEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, &models.Organization{
		ID: "org-1", Slug: "acme", CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.SaveWebhook(ctx, &models.WebhookEndpoint{
		ID: "w1", OrgID: "org-1", URL: "https://hooks.acme.test/a", Secret: "s1", Active: true,
	}))
	require.NoError(t, s.SaveWebhook(ctx, &models.WebhookEndpoint{
		ID: "w2", OrgID: "org-1", URL: "https://hooks.acme.test/b", Secret: "s2", Active: false,
	}))

	hooks, err := s.ListActiveWebhooks(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "w1", hooks[0].ID)
}

func TestRepositories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrganization(ctx, &models.Organization{
		ID: "org-1", Slug: "acme", CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.SaveRepository(ctx, &models.Repository{
		ID: "repo-1", OrgID: "org-1", Slug: "acme/api",
		CloneURL: "https://github.com/acme/api.git", DefaultBranch: "main",
		CreatedAt: time.Now().UTC(),
	}))

	got, err := s.GetRepository(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "acme/api", got.Slug)

	_, err = s.GetRepository(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
