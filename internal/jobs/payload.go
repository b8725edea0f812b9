// Package jobs implements the durable job pipeline on Redis lists.
// Enqueue is LPUSH; workers BLMOVE into a per-worker processing list
// and acknowledge only after the handler returns, so a crashed worker
// leaves its in-flight jobs recoverable by the reaper.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names, in worker drain priority order.
const (
	QueueAnalysisPriority = "analysis.priority"
	QueueAnalysis         = "analysis"
	QueueDefault          = "default"
)

// Job types.
const (
	TypeAnalyzeRepository         = "analyzeRepository"
	TypeAnalyzeRepositoryPriority = "analyzeRepositoryPriority"
	TypeAnalyzePR                 = "analyzePR"
	TypeRunHooks                  = "runHooks"
	TypeDeliverWebhook            = "deliverWebhook"
)

// typeSpec pins each job type to its queue and retry budget.
var typeSpec = map[string]struct {
	queue      string
	maxRetries int
}{
	TypeAnalyzeRepository:         {QueueAnalysis, 3},
	TypeAnalyzeRepositoryPriority: {QueueAnalysisPriority, 3},
	TypeAnalyzePR:                 {QueueAnalysis, 2},
	TypeRunHooks:                  {QueueDefault, 5},
	TypeDeliverWebhook:            {QueueDefault, 5},
}

// Job is the envelope carried on the wire.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OrgID      string          `json:"orgId"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"maxRetries"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob wraps a payload in an envelope for its type. Unknown types
// are refused at enqueue time, not discovered at dequeue time.
func NewJob(jobType, orgID string, payload any) (*Job, error) {
	spec, ok := typeSpec[jobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}
	return &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		OrgID:      orgID,
		Payload:    raw,
		MaxRetries: spec.maxRetries,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// QueueFor returns the queue a job type rides on.
func QueueFor(jobType string) (string, error) {
	spec, ok := typeSpec[jobType]
	if !ok {
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
	return spec.queue, nil
}

// Encode serializes the envelope for the Redis list.
func (j *Job) Encode() (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}
	return string(raw), nil
}

// DecodeJob parses one list element back into an envelope.
func DecodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}
	if j.ID == "" || j.Type == "" {
		return nil, fmt.Errorf("job missing id or type")
	}
	return &j, nil
}

// DecodePayload unmarshals the inner payload into target.
func (j *Job) DecodePayload(target any) error {
	if err := json.Unmarshal(j.Payload, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Type, err)
	}
	return nil
}

// AnalyzeRepositoryPayload asks for a full or incremental analysis of
// one repository at a commit.
type AnalyzeRepositoryPayload struct {
	OrgID       string `json:"orgId"`
	OrgSlug     string `json:"orgSlug"`
	RepoID      string `json:"repoId"`
	RepoSlug    string `json:"repoSlug"`
	CloneURL    string `json:"cloneUrl"`
	CommitSHA   string `json:"commitSha"`
	FullRebuild bool   `json:"fullRebuild,omitempty"`
}

// AnalyzePRPayload asks for an analysis attached to a pull request.
type AnalyzePRPayload struct {
	AnalyzeRepositoryPayload
	PRNumber int `json:"prNumber"`
}

// RunHooksPayload triggers post-run notification hooks for a finished
// analysis run.
type RunHooksPayload struct {
	OrgID    string `json:"orgId"`
	RunID    string `json:"runId"`
	PRNumber int    `json:"prNumber,omitempty"`
}

// DeliverWebhookPayload delivers one signed event to one endpoint.
type DeliverWebhookPayload struct {
	EndpointID string          `json:"endpointId"`
	OrgID      string          `json:"orgId"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}
