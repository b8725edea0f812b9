package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobRoundTrip(t *testing.T) {
	payload := AnalyzeRepositoryPayload{
		OrgID:     "org-1",
		OrgSlug:   "acme",
		RepoID:    "repo-1",
		RepoSlug:  "acme/api",
		CloneURL:  "https://github.com/acme/api.git",
		CommitSHA: "abc123",
	}

	job, err := NewJob(TypeAnalyzeRepository, "org-1", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.Retries)

	raw, err := job.Encode()
	require.NoError(t, err)

	decoded, err := DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, TypeAnalyzeRepository, decoded.Type)

	var got AnalyzeRepositoryPayload
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestNewJobUnknownType(t *testing.T) {
	_, err := NewJob("mystery", "org-1", nil)
	assert.Error(t, err)
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	_, err := DecodeJob("not json")
	assert.Error(t, err)

	_, err = DecodeJob(`{"retries": 1}`)
	assert.Error(t, err, "missing id and type")
}

func TestSoftDeadlineContext(t *testing.T) {
	_, ok := SoftDeadline(context.Background())
	assert.False(t, ok)

	want := time.Now().Add(time.Minute)
	ctx := WithSoftDeadline(context.Background(), want)
	got, ok := SoftDeadline(ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestQueueRouting(t *testing.T) {
	tests := []struct {
		jobType string
		queue   string
	}{
		{TypeAnalyzeRepository, QueueAnalysis},
		{TypeAnalyzeRepositoryPriority, QueueAnalysisPriority},
		{TypeAnalyzePR, QueueAnalysis},
		{TypeRunHooks, QueueDefault},
		{TypeDeliverWebhook, QueueDefault},
	}
	for _, tt := range tests {
		queue, err := QueueFor(tt.jobType)
		require.NoError(t, err)
		assert.Equal(t, tt.queue, queue, tt.jobType)
	}

	_, err := QueueFor("mystery")
	assert.Error(t, err)
}

func TestBackoffDelayBounds(t *testing.T) {
	b := RetryBackoff{Base: 30 * time.Second, Factor: 2.0}

	for attempt, base := range map[int]time.Duration{
		0: 30 * time.Second,
		1: 60 * time.Second,
		2: 120 * time.Second,
	} {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2))
		}
	}
}

func TestThrottleProgress(t *testing.T) {
	var calls []int
	throttled := ThrottleProgress(func(percent int, step string) {
		calls = append(calls, percent)
	}, 50*time.Millisecond)

	throttled(10, "scan")
	throttled(20, "scan") // inside the window, dropped
	throttled(30, "scan") // inside the window, dropped
	time.Sleep(60 * time.Millisecond)
	throttled(40, "parse")

	assert.Equal(t, []int{10, 40}, calls)
}

func TestThrottleProgressAlwaysForwardsCompletion(t *testing.T) {
	var calls []int
	throttled := ThrottleProgress(func(percent int, step string) {
		calls = append(calls, percent)
	}, time.Hour)

	throttled(10, "scan")
	throttled(100, "done")

	assert.Equal(t, []int{10, 100}, calls)
}

func TestThrottleProgressNilCallback(t *testing.T) {
	throttled := ThrottleProgress(nil, time.Second)
	assert.NotPanics(t, func() { throttled(50, "scan") })
}

func TestWorkerConfigDefaults(t *testing.T) {
	var cfg WorkerConfig
	cfg.applyDefaults()

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.SoftTimeout)
	assert.Equal(t, 35*time.Minute, cfg.HardTimeout)
	assert.Greater(t, cfg.HardTimeout, cfg.SoftTimeout)
}
