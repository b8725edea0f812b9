package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reaper recovers jobs stranded in the processing lists of workers
// whose heartbeat expired. Any worker process can run one alongside
// its drain loops.
type Reaper struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper builds a reaper with the given sweep interval.
func NewReaper(queue *Queue, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = aliveTTL
	}
	return &Reaper{
		queue:    queue,
		interval: interval,
		logger:   slog.Default().With("component", "reaper"),
	}
}

// Run sweeps until the context is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("requeued orphaned jobs", "count", n)
			}
		}
	}
}

// Sweep requeues every job held by a dead worker and returns how many
// jobs it moved.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	rdb := r.queue.rdb
	requeued := 0

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, processingPrefix+"*", 50).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to scan processing lists: %w", err)
		}
		for _, key := range keys {
			workerID := strings.TrimPrefix(key, processingPrefix)
			alive, err := rdb.Exists(ctx, alivePrefix+workerID+aliveSuffix).Result()
			if err != nil {
				return requeued, fmt.Errorf("failed to check worker liveness: %w", err)
			}
			if alive > 0 {
				continue
			}
			n, err := r.drainProcessing(ctx, key, workerID)
			requeued += n
			if err != nil {
				return requeued, err
			}
		}
		cursor = next
		if cursor == 0 {
			return requeued, nil
		}
	}
}

// drainProcessing moves every element of a dead worker's processing
// list back onto its queue. Jobs interrupted mid-flight count the
// interruption as an attempt so a crash-looping payload cannot recycle
// forever.
func (r *Reaper) drainProcessing(ctx context.Context, key, workerID string) (int, error) {
	rdb := r.queue.rdb
	moved := 0
	for {
		raw, err := rdb.RPop(ctx, key).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to drain %s: %w", key, err)
		}

		job, decErr := DecodeJob(raw)
		if decErr != nil {
			r.logger.Error("dropping malformed orphaned job", "worker_id", workerID, "error", decErr)
			continue
		}

		job.Retries++
		if job.Retries > job.MaxRetries {
			r.logger.Error("orphaned job out of retries, dropping",
				"job_id", job.ID, "type", job.Type, "worker_id", workerID)
			continue
		}

		encoded, encErr := job.Encode()
		if encErr != nil {
			continue
		}
		queue, qErr := QueueFor(job.Type)
		if qErr != nil {
			continue
		}
		if err := rdb.LPush(ctx, queuePrefix+queue, encoded).Err(); err != nil {
			return moved, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		moved++
		r.logger.Warn("requeued orphaned job",
			"job_id", job.ID, "type", job.Type, "dead_worker", workerID, "attempt", job.Retries)
	}
}
