// Package detect runs the detector engine: phase 1 detectors inspect
// the query cache independently and in parallel, phase 2 detectors run
// serially over phase 1 output to correlate and re-rank.
package detect

import (
	"context"
	"time"

	"github.com/reposage/reposage/internal/querycache"
)

// Severity levels, strongest first in sort order.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Finding is one detector verdict about one entity.
type Finding struct {
	ID              string         `json:"id"`
	Detector        string         `json:"detector"`
	Category        string         `json:"category"`
	Severity        string         `json:"severity"`
	Confidence      float64        `json:"confidence"`
	Message         string         `json:"message"`
	Description     string         `json:"description,omitempty"`
	SuggestedFix    string         `json:"suggestedFix,omitempty"`
	EstimatedEffort string         `json:"estimatedEffort,omitempty"`
	Issues          []string       `json:"issues,omitempty"`
	Label           string         `json:"label"`
	EntityQN        string         `json:"entityQn"`
	FilePath        string         `json:"filePath"`
	Line            int            `json:"line"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// EntityFlagger mirrors verdicts into the graph between phases, so
// phase 2 detectors can query what phase 1 flagged.
type EntityFlagger interface {
	FlagFinding(ctx context.Context, f Finding) error
	FlaggedDetectors(ctx context.Context, label, qualifiedName string) ([]string, error)
}

// Input is the read-only state shared by every detector in a run.
// Phase 2 detectors additionally see the phase 1 findings and, when a
// flagger is wired, the flags phase 1 wrote to the graph.
type Input struct {
	Cache    *querycache.Cache
	RepoID   string
	RunID    string
	Phase1   []Finding // empty during phase 1
	Previous []Finding // findings of the latest completed run, may be empty
	Flags    EntityFlagger

	// SoftDeadline, when set, stops the engine scheduling further
	// detectors once passed; findings collected so far are kept.
	SoftDeadline time.Time
}

// Detector is one analysis rule. Phase 1 detectors must not depend on
// other detectors' output; phase 2 detectors may read Input.Phase1.
type Detector interface {
	Name() string
	Category() string
	Phase() int
	Detect(ctx context.Context, in *Input) ([]Finding, error)
}
