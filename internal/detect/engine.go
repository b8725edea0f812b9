package detect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxParallel caps phase 1 fan-out regardless of core count.
const maxParallel = 8

// Engine runs a detector set over one repository snapshot.
type Engine struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewEngine validates the detector set and returns an engine.
func NewEngine(detectors []Detector) (*Engine, error) {
	seen := make(map[string]bool, len(detectors))
	for _, d := range detectors {
		if d.Name() == "" {
			return nil, fmt.Errorf("detector with empty name")
		}
		if seen[d.Name()] {
			return nil, fmt.Errorf("duplicate detector %q", d.Name())
		}
		seen[d.Name()] = true
		if p := d.Phase(); p != 1 && p != 2 {
			return nil, fmt.Errorf("detector %q has invalid phase %d", d.Name(), p)
		}
	}
	return &Engine{
		detectors: detectors,
		logger:    slog.Default().With("component", "detect"),
	}, nil
}

// Result is the outcome of one engine run.
type Result struct {
	Findings []Finding
	// Failed lists detectors that errored or panicked; their absence
	// from Findings is reported, not fatal.
	Failed map[string]string
}

// Run executes phase 1 in parallel and phase 2 serially. A detector
// error or panic disables that detector for the run and never sinks
// the others. Once Input.SoftDeadline passes, remaining detectors are
// skipped and the findings collected so far are returned; on hard
// cancellation the partial result comes back alongside the context
// error. Output ordering is deterministic: severity descending, then
// detector, then entity, then finding id.
func (e *Engine) Run(ctx context.Context, in *Input) (*Result, error) {
	result := &Result{Failed: make(map[string]string)}

	var phase1 []Finding
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := runtime.NumCPU()
	if limit > maxParallel {
		limit = maxParallel
	}
	g.SetLimit(limit)

	for _, d := range e.detectors {
		if d.Phase() != 1 {
			continue
		}
		d := d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if softExpired(in) {
				mu.Lock()
				result.Failed[d.Name()] = "skipped: soft time limit reached"
				mu.Unlock()
				return nil
			}
			findings, err := e.runOne(gctx, d, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[d.Name()] = err.Error()
				return nil
			}
			phase1 = append(phase1, findings...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sortFindings(phase1)
		result.Findings = phase1
		return result, err
	}

	sortFindings(phase1)
	all := append([]Finding(nil), phase1...)

	e.mirrorFlags(ctx, in, phase1)

	phase2In := *in
	phase2In.Phase1 = phase1
	for _, d := range e.detectors {
		if d.Phase() != 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			sortFindings(all)
			result.Findings = all
			return result, err
		}
		if softExpired(in) {
			result.Failed[d.Name()] = "skipped: soft time limit reached"
			continue
		}
		findings, err := e.runOne(ctx, d, &phase2In)
		if err != nil {
			result.Failed[d.Name()] = err.Error()
			continue
		}
		all = append(all, findings...)
	}

	sortFindings(all)
	result.Findings = all

	e.logger.Info("detection complete",
		"repo_id", in.RepoID,
		"findings", len(all),
		"failed_detectors", len(result.Failed))
	return result, nil
}

// mirrorFlags writes phase 1 verdicts into the graph before phase 2
// starts, so phase 2 detectors can query them. Best effort.
func (e *Engine) mirrorFlags(ctx context.Context, in *Input, phase1 []Finding) {
	if in.Flags == nil {
		return
	}
	for _, f := range phase1 {
		if f.Label == "" || f.EntityQN == "" {
			continue
		}
		if err := in.Flags.FlagFinding(ctx, f); err != nil {
			e.logger.Warn("flag mirror failed",
				"detector", f.Detector, "entity", f.EntityQN, "error", err)
		}
	}
}

// softExpired reports whether the input's soft deadline has passed.
func softExpired(in *Input) bool {
	return !in.SoftDeadline.IsZero() && time.Now().After(in.SoftDeadline)
}

// runOne executes one detector with panic isolation and fills in
// finding identity fields the detector left blank.
func (e *Engine) runOne(ctx context.Context, d Detector, in *Input) (findings []Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("detector panicked", "detector", d.Name(), "panic", r)
			findings = nil
			err = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
		}
	}()

	findings, err = d.Detect(ctx, in)
	if err != nil {
		e.logger.Warn("detector failed", "detector", d.Name(), "error", err)
		return nil, err
	}

	for i := range findings {
		if findings[i].ID == "" {
			findings[i].ID = uuid.New().String()
		}
		if findings[i].Detector == "" {
			findings[i].Detector = d.Name()
		}
		if findings[i].Category == "" {
			findings[i].Category = d.Category()
		}
		if findings[i].Severity == "" {
			findings[i].Severity = SeverityLow
		}
		// zero means the detector did not state a confidence
		switch c := findings[i].Confidence; {
		case c == 0:
			findings[i].Confidence = 1
		case c < 0:
			findings[i].Confidence = 0
		case c > 1:
			findings[i].Confidence = 1
		}
	}
	return findings, nil
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := rankOf(findings[i].Severity), rankOf(findings[j].Severity)
		if ri != rj {
			return ri < rj
		}
		if findings[i].Detector != findings[j].Detector {
			return findings[i].Detector < findings[j].Detector
		}
		if findings[i].EntityQN != findings[j].EntityQN {
			return findings[i].EntityQN < findings[j].EntityQN
		}
		return findings[i].ID < findings[j].ID
	})
}

func rankOf(severity string) int {
	if r, ok := severityRank[severity]; ok {
		return r
	}
	return len(severityRank)
}

// Escalate returns the next severity up from s.
func Escalate(s string) string {
	switch s {
	case SeverityInfo:
		return SeverityLow
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
