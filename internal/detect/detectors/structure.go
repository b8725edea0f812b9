package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/reposage/reposage/internal/detect"
)

const (
	godClassMedium = 10
	godClassHigh   = 15

	paramListMedium = 5
	paramListHigh   = 8
)

// GodClass flags classes accumulating too many methods.
type GodClass struct{}

func (GodClass) Name() string     { return "god_class" }
func (GodClass) Category() string { return "structure" }
func (GodClass) Phase() int       { return 1 }

func (GodClass) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	var findings []detect.Finding
	for _, cl := range sortedClasses(in) {
		if cl.MethodCount < godClassMedium || cl.IsException {
			continue
		}
		severity := detect.SeverityMedium
		if cl.MethodCount >= godClassHigh {
			severity = detect.SeverityHigh
		}
		findings = append(findings, detect.Finding{
			Severity:        severity,
			Message:         fmt.Sprintf("class has %d methods (threshold %d)", cl.MethodCount, godClassMedium),
			Description:     fmt.Sprintf("%s concentrates %d methods; large classes accumulate unrelated responsibilities", cl.Name, cl.MethodCount),
			SuggestedFix:    "move cohesive method groups into collaborating classes",
			EstimatedEffort: "large",
			Label:           "Class",
			EntityQN:        cl.QualifiedName,
			FilePath:        cl.FilePath,
			Line:            cl.LineStart,
			Metadata:        map[string]any{"methodCount": cl.MethodCount},
		})
	}
	return findings, nil
}

// LongParameterList flags functions taking too many parameters. The
// receiver parameter of methods is not counted.
type LongParameterList struct{}

func (LongParameterList) Name() string     { return "long_parameter_list" }
func (LongParameterList) Category() string { return "quality" }
func (LongParameterList) Phase() int       { return 1 }

func (LongParameterList) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	var findings []detect.Finding
	for _, fn := range sortedFunctions(in) {
		params := len(fn.Parameters)
		if fn.IsMethod && !fn.IsStatic && params > 0 {
			params--
		}
		if params <= paramListMedium {
			continue
		}
		severity := detect.SeverityMedium
		if params > paramListHigh {
			severity = detect.SeverityHigh
		}
		findings = append(findings, detect.Finding{
			Severity:        severity,
			Message:         fmt.Sprintf("%d parameters (threshold %d)", params, paramListMedium),
			Description:     "callers must line up " + strings.Join(fn.Parameters, ", "),
			SuggestedFix:    "group related parameters into a parameter object",
			EstimatedEffort: "small",
			Label:           "Function",
			EntityQN:        fn.QualifiedName,
			FilePath:        fn.FilePath,
			Line:            fn.LineStart,
			Metadata:        map[string]any{"paramCount": params, "parameters": fn.Parameters},
		})
	}
	return findings, nil
}

// DeadSymbol flags functions nothing in the repo calls. Methods are
// exempt (dynamic dispatch hides their callers), as are entry points,
// dunder hooks and anything in test files.
type DeadSymbol struct{}

func (DeadSymbol) Name() string     { return "dead_symbol" }
func (DeadSymbol) Category() string { return "quality" }
func (DeadSymbol) Phase() int       { return 1 }

func (DeadSymbol) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	var findings []detect.Finding
	for _, fn := range sortedFunctions(in) {
		if fn.IsMethod || len(in.Cache.CalledBy[fn.QualifiedName]) > 0 {
			continue
		}
		if isEntryPoint(fn.Name) {
			continue
		}
		if f, ok := in.Cache.Files[fn.FilePath]; ok && f.IsTest {
			continue
		}
		findings = append(findings, detect.Finding{
			Severity:        detect.SeverityLow,
			Confidence:      0.8, // dynamic call sites are invisible to the graph
			Message:         "function has no callers in the repository",
			SuggestedFix:    "delete the function or wire up its caller",
			EstimatedEffort: "small",
			Label:           "Function",
			EntityQN:        fn.QualifiedName,
			FilePath:        fn.FilePath,
			Line:            fn.LineStart,
		})
	}
	return findings, nil
}

func isEntryPoint(name string) bool {
	if name == "main" || name == "run" || name == "cli" {
		return true
	}
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
