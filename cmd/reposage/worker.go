package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reposage/reposage/internal/analysis"
	rserr "github.com/reposage/reposage/internal/errors"
	"github.com/reposage/reposage/internal/git"
	"github.com/reposage/reposage/internal/hooks"
	"github.com/reposage/reposage/internal/jobs"
	"github.com/reposage/reposage/internal/store"
	"github.com/reposage/reposage/internal/tenant"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an analysis worker",
	Long: `Worker drains the job queues: repository analyses, post-run hooks
and webhook deliveries. Runs until interrupted; in-flight jobs left by
a crashed worker are recovered by the built-in reaper.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	queue, err := jobs.NewQueue(ctx, cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer queue.Close()

	factory, err := tenant.NewFactory(ctx, cfg.Graph.URI(), cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		return err
	}
	defer factory.CloseAll(context.Background())

	cloner := git.NewCloner(cfg.Worker.CloneDir)
	orch := analysis.NewOrchestrator(st, factory, cloner, queue, cfg.Scan)
	hookRunner := hooks.NewRunner(st, queue, nil)
	sender := hooks.NewWebhookSender()

	worker := jobs.NewWorker(queue, jobs.WorkerConfig{
		Concurrency: cfg.Worker.Concurrency,
		SoftTimeout: cfg.Worker.SoftTimeLimit,
		HardTimeout: cfg.Worker.HardTimeLimit,
	})
	registerHandlers(worker, orch, hookRunner, sender, st)

	reaper := jobs.NewReaper(queue, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func registerHandlers(worker *jobs.Worker, orch *analysis.Orchestrator, hookRunner *hooks.Runner, sender *hooks.WebhookSender, st store.Store) {
	analyzeRepo := func(ctx context.Context, job *jobs.Job) error {
		var p jobs.AnalyzeRepositoryPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		_, err := orch.Analyze(ctx, analysis.Request{
			OrgID: p.OrgID, OrgSlug: p.OrgSlug,
			RepoID: p.RepoID, RepoSlug: p.RepoSlug,
			CloneURL: p.CloneURL, CommitSHA: p.CommitSHA,
			FullRebuild: p.FullRebuild,
		})
		return err
	}
	worker.Handle(jobs.TypeAnalyzeRepository, analyzeRepo)
	worker.Handle(jobs.TypeAnalyzeRepositoryPriority, analyzeRepo)

	worker.Handle(jobs.TypeAnalyzePR, func(ctx context.Context, job *jobs.Job) error {
		var p jobs.AnalyzePRPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		_, err := orch.Analyze(ctx, analysis.Request{
			OrgID: p.OrgID, OrgSlug: p.OrgSlug,
			RepoID: p.RepoID, RepoSlug: p.RepoSlug,
			CloneURL: p.CloneURL, CommitSHA: p.CommitSHA,
			FullRebuild: p.FullRebuild, PRNumber: p.PRNumber,
		})
		return err
	})

	worker.Handle(jobs.TypeRunHooks, func(ctx context.Context, job *jobs.Job) error {
		var p jobs.RunHooksPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return hookRunner.Run(ctx, &p)
	})

	worker.Handle(jobs.TypeDeliverWebhook, func(ctx context.Context, job *jobs.Job) error {
		var p jobs.DeliverWebhookPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		endpoints, err := st.ListActiveWebhooks(ctx, p.OrgID)
		if err != nil {
			return rserr.Transient(err, "load webhook endpoints")
		}
		for _, ep := range endpoints {
			if ep.ID == p.EndpointID {
				return sender.Deliver(ctx, ep, p.Event, p.Body)
			}
		}
		// Endpoint deleted or disabled since enqueue; drop silently.
		return nil
	})
}
