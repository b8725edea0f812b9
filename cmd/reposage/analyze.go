package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/reposage/reposage/internal/analysis"
	"github.com/reposage/reposage/internal/git"
	"github.com/reposage/reposage/internal/models"
	"github.com/reposage/reposage/internal/tenant"
)

var (
	analyzeOrgID       string
	analyzeOrgSlug     string
	analyzeRepoID      string
	analyzeCommit      string
	analyzeFullRebuild bool
	analyzeOpen        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze a local repository checkout",
	Long: `Analyze runs the full pipeline against a local working tree:
graph ingestion, detectors and scoring. Defaults to the current
directory. Results are stored and printed; --open shows the run in the
dashboard.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeOrgID, "org", "", "organization id (default: local)")
	analyzeCmd.Flags().StringVar(&analyzeOrgSlug, "org-slug", "", "organization slug (default: org id)")
	analyzeCmd.Flags().StringVar(&analyzeRepoID, "repo", "", "repository id (default: derived from remote or path)")
	analyzeCmd.Flags().StringVar(&analyzeCommit, "commit", "", "commit sha to record (default: HEAD)")
	analyzeCmd.Flags().BoolVar(&analyzeFullRebuild, "full-rebuild", false, "drop the repository graph and re-ingest everything")
	analyzeCmd.Flags().BoolVar(&analyzeOpen, "open", false, "open the run in the dashboard when done")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("repository path %s: %w", abs, err)
	}

	req, err := buildRequest(ctx, abs)
	if err != nil {
		return err
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	factory, err := tenant.NewFactory(ctx, cfg.Graph.URI(), cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		return err
	}
	defer factory.CloseAll(context.Background())

	orch := analysis.NewOrchestrator(st, factory, nil, nil, cfg.Scan)
	run, err := orch.AnalyzeLocal(ctx, req, abs)
	if err != nil {
		return err
	}

	printRun(run)

	if analyzeOpen && cfg.AppBaseURL != "" {
		url := fmt.Sprintf("%s/runs/%s", cfg.AppBaseURL, run.ID)
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "could not open browser: %v\n%s\n", err, url)
		}
	}
	return nil
}

// buildRequest fills identity defaults for local runs: org "local",
// repo id from the git remote when one exists, otherwise the directory
// name, and the commit from HEAD.
func buildRequest(ctx context.Context, abs string) (analysis.Request, error) {
	req := analysis.Request{
		OrgID:       analyzeOrgID,
		OrgSlug:     analyzeOrgSlug,
		RepoID:      analyzeRepoID,
		CommitSHA:   analyzeCommit,
		FullRebuild: analyzeFullRebuild,
	}
	if req.OrgID == "" {
		req.OrgID = "local"
	}
	if req.OrgSlug == "" {
		req.OrgSlug = req.OrgID
	}
	if req.RepoID == "" {
		req.RepoID = filepath.Base(abs)
	}
	req.RepoSlug = req.RepoID
	if req.CommitSHA == "" {
		if sha, err := git.HeadCommit(ctx, abs); err == nil {
			req.CommitSHA = sha
		} else {
			req.CommitSHA = "worktree-" + uuid.New().String()[:8]
		}
	}
	return req, nil
}

func printRun(run *models.AnalysisRun) {
	fmt.Printf("\nRun %s (%s)\n", run.ID, run.Status)
	fmt.Printf("  Health:       %.1f", run.HealthScore)
	if run.ScoreDelta != nil {
		fmt.Printf(" (%+.1f)", *run.ScoreDelta)
	}
	fmt.Println()
	fmt.Printf("  Structure:    %.1f\n", run.StructureScore)
	fmt.Printf("  Quality:      %.1f\n", run.QualityScore)
	fmt.Printf("  Architecture: %.1f\n", run.ArchitectureScore)
	fmt.Printf("  Findings:     %d across %d files\n", run.FindingsCount, run.FilesAnalyzed)
}
