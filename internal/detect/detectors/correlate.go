package detectors

import (
	"context"
	"sort"
	"strings"

	"github.com/reposage/reposage/internal/detect"
)

// Hotspot is a phase 2 rule: entities flagged by two or more distinct
// phase 1 detectors get an escalated, consolidated finding.
type Hotspot struct{}

func (Hotspot) Name() string     { return "hotspot" }
func (Hotspot) Category() string { return "architecture" }
func (Hotspot) Phase() int       { return 2 }

func (Hotspot) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	type agg struct {
		detectors map[string]bool
		issues    []string
		worst     string
		label     string
		filePath  string
		line      int
	}
	byEntity := make(map[string]*agg)
	for _, f := range in.Phase1 {
		a := byEntity[f.EntityQN]
		if a == nil {
			a = &agg{detectors: make(map[string]bool), worst: f.Severity, label: f.Label, filePath: f.FilePath, line: f.Line}
			byEntity[f.EntityQN] = a
		}
		a.detectors[f.Detector] = true
		a.issues = append(a.issues, f.Detector+": "+f.Message)
		if severityRank(f.Severity) < severityRank(a.worst) {
			a.worst = f.Severity
		}
	}

	// A wired flagger may know verdicts from earlier runs the phase 1
	// slice does not carry.
	if in.Flags != nil {
		for qn, a := range byEntity {
			known, err := in.Flags.FlaggedDetectors(ctx, a.label, qn)
			if err != nil {
				continue
			}
			for _, d := range known {
				a.detectors[d] = true
			}
		}
	}

	var entities []string
	for qn, a := range byEntity {
		if len(a.detectors) >= 2 {
			entities = append(entities, qn)
		}
	}
	sort.Strings(entities)

	var findings []detect.Finding
	for _, qn := range entities {
		a := byEntity[qn]
		names := make([]string, 0, len(a.detectors))
		for d := range a.detectors {
			names = append(names, d)
		}
		sort.Strings(names)
		sort.Strings(a.issues)

		findings = append(findings, detect.Finding{
			Severity:        detect.Escalate(a.worst),
			Message:         "flagged by multiple detectors: " + strings.Join(names, ", "),
			Description:     "independent rules agree this entity is a problem, which raises the odds a change here breaks something",
			SuggestedFix:    "schedule a focused refactoring of this entity",
			EstimatedEffort: "large",
			Issues:          a.issues,
			Label:           a.label,
			EntityQN:        qn,
			FilePath:        a.filePath,
			Line:            a.line,
			Metadata:        map[string]any{"detectors": names},
		})
	}
	return findings, nil
}

// RiskCorrelation is a phase 2 rule: files where three or more
// distinct detectors fired concentrate risk and get a file-level
// finding at escalated severity.
type RiskCorrelation struct{}

func (RiskCorrelation) Name() string     { return "risk_correlation" }
func (RiskCorrelation) Category() string { return "architecture" }
func (RiskCorrelation) Phase() int       { return 2 }

const riskDetectorThreshold = 3

func (RiskCorrelation) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	type agg struct {
		detectors map[string]bool
		worst     string
	}
	byFile := make(map[string]*agg)
	for _, f := range in.Phase1 {
		if f.FilePath == "" {
			continue
		}
		a := byFile[f.FilePath]
		if a == nil {
			a = &agg{detectors: make(map[string]bool), worst: f.Severity}
			byFile[f.FilePath] = a
		}
		a.detectors[f.Detector] = true
		if severityRank(f.Severity) < severityRank(a.worst) {
			a.worst = f.Severity
		}
	}

	var paths []string
	for path, a := range byFile {
		if len(a.detectors) >= riskDetectorThreshold {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var findings []detect.Finding
	for _, path := range paths {
		a := byFile[path]
		names := make([]string, 0, len(a.detectors))
		for d := range a.detectors {
			names = append(names, d)
		}
		sort.Strings(names)

		findings = append(findings, detect.Finding{
			Severity:        detect.Escalate(a.worst),
			Message:         "file concentrates findings from " + strings.Join(names, ", "),
			Description:     "several unrelated rules fired in the same file, a typical sign of a module doing too much",
			SuggestedFix:    "split the file along its responsibilities before adding to it",
			EstimatedEffort: "large",
			Label:           "File",
			EntityQN:        path,
			FilePath:        path,
			Metadata:        map[string]any{"detectors": names},
		})
	}
	return findings, nil
}

func severityRank(s string) int {
	switch s {
	case detect.SeverityCritical:
		return 0
	case detect.SeverityHigh:
		return 1
	case detect.SeverityMedium:
		return 2
	case detect.SeverityLow:
		return 3
	case detect.SeverityInfo:
		return 4
	}
	return 5
}
