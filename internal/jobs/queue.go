package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queuePrefix      = "reposage:queue:"
	processingPrefix = "reposage:processing:"
	delayedKey       = "reposage:delayed"
	alivePrefix      = "reposage:worker:"
	aliveSuffix      = ":alive"

	// aliveTTL bounds how stale a worker heartbeat may be before the
	// reaper treats its processing list as orphaned.
	aliveTTL = 60 * time.Second
)

// RetryBackoff shapes the delay before a failed job runs again.
type RetryBackoff struct {
	Base   time.Duration
	Factor float64
}

// DefaultBackoff retries at roughly 30s, 60s, 120s with jitter.
var DefaultBackoff = RetryBackoff{Base: 30 * time.Second, Factor: 2.0}

// Delay computes the backoff for the given attempt with 20% jitter so
// simultaneous failures fan back out instead of thundering together.
func (b RetryBackoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(d * jitter)
}

// Queue is the Redis-backed job transport.
type Queue struct {
	rdb     *redis.Client
	backoff RetryBackoff
	logger  *slog.Logger
}

// NewQueue connects to Redis and fails fast when it is unreachable.
func NewQueue(ctx context.Context, redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger := slog.Default().With("component", "jobs")
	logger.Info("job queue connected", "addr", opts.Addr)
	return &Queue{rdb: rdb, backoff: DefaultBackoff, logger: logger}, nil
}

// NewQueueWithClient wraps an existing client, for tests and shared
// connection setups.
func NewQueueWithClient(rdb *redis.Client) *Queue {
	return &Queue{
		rdb:     rdb,
		backoff: DefaultBackoff,
		logger:  slog.Default().With("component", "jobs"),
	}
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Ping verifies connectivity, for health endpoints.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue pushes a job onto its type's queue.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	queue, err := QueueFor(job.Type)
	if err != nil {
		return err
	}
	raw, err := job.Encode()
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, queuePrefix+queue, raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s job %s: %w", job.Type, job.ID, err)
	}
	q.logger.Debug("job enqueued", "job_id", job.ID, "type", job.Type, "queue", queue)
	return nil
}

// Dequeue moves the next job from the highest-priority non-empty
// queue into the worker's processing list and returns it with the raw
// element needed for the later ack. Returns nil when every queue was
// empty for the timeout window.
func (q *Queue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Job, string, error) {
	processing := processingPrefix + workerID
	perQueue := timeout / 3
	if perQueue < time.Second {
		perQueue = time.Second
	}

	for _, queue := range []string{QueueAnalysisPriority, QueueAnalysis, QueueDefault} {
		raw, err := q.rdb.BLMove(ctx, queuePrefix+queue, processing, "RIGHT", "LEFT", perQueue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("dequeue from %s failed: %w", queue, err)
		}

		job, decErr := DecodeJob(raw)
		if decErr != nil {
			// Poisoned element: drop it from processing so it cannot
			// loop forever, and surface the problem in the logs.
			q.logger.Error("dropping malformed job", "queue", queue, "error", decErr)
			q.rdb.LRem(ctx, processing, 1, raw)
			continue
		}
		return job, raw, nil
	}
	return nil, "", nil
}

// Ack removes a finished job from the worker's processing list. Until
// this runs the job survives a worker crash.
func (q *Queue) Ack(ctx context.Context, workerID, raw string) error {
	if err := q.rdb.LRem(ctx, processingPrefix+workerID, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Retry schedules a failed job to run again after backoff, consuming
// one retry. The caller decides whether the failure was retryable.
func (q *Queue) Retry(ctx context.Context, workerID, raw string, job *Job) error {
	job.Retries++
	delay := q.backoff.Delay(job.Retries - 1)

	encoded, err := job.Encode()
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: encoded}).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", job.ID, err)
	}
	if err := q.Ack(ctx, workerID, raw); err != nil {
		return err
	}

	q.logger.Warn("job scheduled for retry",
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.Retries,
		"max", job.MaxRetries,
		"delay", delay.Round(time.Second))
	return nil
}

// PromoteDue moves delayed jobs whose time has come back onto their
// queues. Workers call this on every poll loop.
func (q *Queue) PromoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, raw := range members {
		job, err := DecodeJob(raw)
		if err != nil {
			q.rdb.ZRem(ctx, delayedKey, raw)
			continue
		}
		queue, err := QueueFor(job.Type)
		if err != nil {
			q.rdb.ZRem(ctx, delayedKey, raw)
			continue
		}
		// Remove-then-push; ZRem returning 0 means another worker
		// already promoted this element.
		n, err := q.rdb.ZRem(ctx, delayedKey, raw).Result()
		if err != nil || n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, queuePrefix+queue, raw).Err(); err != nil {
			return fmt.Errorf("failed to promote job %s: %w", job.ID, err)
		}
	}
	return nil
}

// Heartbeat refreshes the worker's liveness key.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	key := alivePrefix + workerID + aliveSuffix
	return q.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), aliveTTL).Err()
}

// QueueDepths reports the length of each queue, for operator stats.
func (q *Queue) QueueDepths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 3)
	for _, queue := range []string{QueueAnalysisPriority, QueueAnalysis, QueueDefault} {
		n, err := q.rdb.LLen(ctx, queuePrefix+queue).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read depth of %s: %w", queue, err)
		}
		depths[queue] = n
	}
	return depths, nil
}
