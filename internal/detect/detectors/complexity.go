package detectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/reposage/reposage/internal/detect"
)

const (
	complexityMedium = 10
	complexityHigh   = 15
)

// Complexity flags functions whose cyclomatic complexity crosses the
// medium or high threshold.
type Complexity struct{}

func (Complexity) Name() string     { return "complexity" }
func (Complexity) Category() string { return "quality" }
func (Complexity) Phase() int       { return 1 }

func (Complexity) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	var findings []detect.Finding
	for _, fn := range sortedFunctions(in) {
		if fn.Complexity <= complexityMedium {
			continue
		}
		severity := detect.SeverityMedium
		effort := "medium"
		if fn.Complexity > complexityHigh {
			severity = detect.SeverityHigh
			effort = "large"
		}
		findings = append(findings, detect.Finding{
			Severity:        severity,
			Message:         fmt.Sprintf("cyclomatic complexity %d exceeds %d", fn.Complexity, complexityMedium),
			Description:     fmt.Sprintf("%s has %d independent paths; branch-heavy functions are hard to test and change safely", fn.Name, fn.Complexity),
			SuggestedFix:    "extract the deepest branches into helper functions",
			EstimatedEffort: effort,
			Label:           "Function",
			EntityQN:        fn.QualifiedName,
			FilePath:        fn.FilePath,
			Line:            fn.LineStart,
			Metadata:        map[string]any{"complexity": fn.Complexity},
		})
	}
	return findings, nil
}

// sortedFunctions iterates the cache deterministically so detector
// output does not depend on map order.
func sortedFunctions(in *detect.Input) []*funcInfo {
	out := make([]*funcInfo, 0, len(in.Cache.Functions))
	for _, fn := range in.Cache.Functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}
