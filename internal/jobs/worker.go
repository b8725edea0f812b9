package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	rserr "github.com/reposage/reposage/internal/errors"
)

// Handler processes one job. A returned error marked transient (see
// the errors package) is retried within the job's budget; anything
// else fails the job permanently.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig tunes one worker process.
type WorkerConfig struct {
	Concurrency int
	SoftTimeout time.Duration // exceeded: logged; handlers see it via SoftDeadline and wind down
	HardTimeout time.Duration // exceeded: context canceled, job fails
	PollTimeout time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = 30 * time.Minute
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 35 * time.Minute
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 6 * time.Second
	}
}

// Worker drains the queues with a fixed goroutine pool.
type Worker struct {
	id       string
	queue    *Queue
	cfg      WorkerConfig
	handlers map[string]Handler
	limiters map[string]*rate.Limiter
	logger   *slog.Logger

	mu     sync.Mutex
	failed func(job *Job, err error)
}

// NewWorker builds a worker with a fresh identity.
func NewWorker(queue *Queue, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	id := "worker-" + uuid.New().String()[:8]
	return &Worker{
		id:       id,
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		limiters: map[string]*rate.Limiter{
			// Full-repo analyses are the expensive path; cap their
			// start rate per worker.
			TypeAnalyzeRepository: rate.NewLimiter(rate.Every(6*time.Second), 1),
		},
		logger: slog.Default().With("component", "worker", "worker_id", id),
	}
}

// ID returns the worker identity used for its processing list.
func (w *Worker) ID() string { return w.id }

// Handle registers the handler for a job type.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// OnPermanentFailure registers a callback for jobs that exhausted
// their retries or failed permanently.
func (w *Worker) OnPermanentFailure(fn func(job *Job, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed = fn
}

// Run blocks draining queues until the context is canceled. The
// heartbeat loop keeps the reaper off this worker's processing list.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "concurrency", w.cfg.Concurrency)

	if err := w.queue.Heartbeat(ctx, w.id); err != nil {
		return fmt.Errorf("initial heartbeat failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.heartbeatLoop(gctx) })
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.drainLoop(gctx) })
	}

	err := g.Wait()
	if err == context.Canceled {
		err = nil
	}
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(aliveTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.queue.PromoteDue(ctx); err != nil {
			w.logger.Warn("delayed job promotion failed", "error", err)
		}

		job, raw, err := w.queue.Dequeue(ctx, w.id, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job, raw)
	}
}

// process runs one job with the rate limit, the soft/hard time limits
// and the late ack.
func (w *Worker) process(ctx context.Context, job *Job, raw string) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Error("no handler for job type", "type", job.Type, "job_id", job.ID)
		w.finish(ctx, job, raw, rserr.Internalf("no handler registered for %s", job.Type))
		return
	}

	if limiter := w.limiters[job.Type]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.HardTimeout)
	defer cancel()
	jobCtx = WithSoftDeadline(jobCtx, time.Now().Add(w.cfg.SoftTimeout))

	softTimer := time.AfterFunc(w.cfg.SoftTimeout, func() {
		w.logger.Warn("job exceeded soft time limit",
			"job_id", job.ID, "type", job.Type, "soft_limit", w.cfg.SoftTimeout)
	})
	defer softTimer.Stop()

	started := time.Now()
	w.logger.Info("job started", "job_id", job.ID, "type", job.Type, "attempt", job.Retries+1)

	err := runIsolated(jobCtx, handler, job)
	if jobCtx.Err() == context.DeadlineExceeded {
		err = rserr.Internalf("job exceeded hard time limit of %s", w.cfg.HardTimeout)
	}

	w.logger.Info("job finished",
		"job_id", job.ID,
		"type", job.Type,
		"duration", time.Since(started).Round(time.Millisecond),
		"error", err)
	w.finish(ctx, job, raw, err)
}

// runIsolated confines handler panics to the job.
func runIsolated(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rserr.Internalf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) finish(ctx context.Context, job *Job, raw string, err error) {
	if err == nil {
		if ackErr := w.queue.Ack(ctx, w.id, raw); ackErr != nil {
			w.logger.Error("ack failed", "job_id", job.ID, "error", ackErr)
		}
		return
	}

	if rserr.IsRetryable(err) && job.Retries < job.MaxRetries {
		if retryErr := w.queue.Retry(ctx, w.id, raw, job); retryErr != nil {
			w.logger.Error("retry scheduling failed", "job_id", job.ID, "error", retryErr)
		}
		return
	}

	w.logger.Error("job failed permanently",
		"job_id", job.ID, "type", job.Type, "attempts", job.Retries+1, "error", err)
	if ackErr := w.queue.Ack(ctx, w.id, raw); ackErr != nil {
		w.logger.Error("ack failed", "job_id", job.ID, "error", ackErr)
	}

	w.mu.Lock()
	failed := w.failed
	w.mu.Unlock()
	if failed != nil {
		failed(job, err)
	}
}
