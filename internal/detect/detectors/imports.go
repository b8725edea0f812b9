package detectors

import (
	"context"
	"sort"
	"strings"

	"github.com/reposage/reposage/internal/detect"
)

// CircularImport flags cycles in the file import graph. Each cycle is
// reported once, anchored at its lexicographically smallest member.
type CircularImport struct{}

func (CircularImport) Name() string     { return "circular_import" }
func (CircularImport) Category() string { return "architecture" }
func (CircularImport) Phase() int       { return 1 }

func (CircularImport) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	// dependsOn[a] = files a imports, derived from the inverse edges.
	dependsOn := make(map[string][]string)
	for imported, importers := range in.Cache.ImportedBy {
		for _, importer := range importers {
			dependsOn[importer] = append(dependsOn[importer], imported)
		}
	}
	for _, deps := range dependsOn {
		sort.Strings(deps)
	}

	var files []string
	for f := range dependsOn {
		files = append(files, f)
	}
	sort.Strings(files)

	seen := make(map[string]bool)
	var findings []detect.Finding

	for _, start := range files {
		cycle := findCycle(start, dependsOn)
		if cycle == nil {
			continue
		}
		key := canonicalCycle(cycle)
		if seen[key] {
			continue
		}
		seen[key] = true

		anchor := cycle[0]
		findings = append(findings, detect.Finding{
			Severity:        detect.SeverityHigh,
			Message:         "import cycle: " + strings.Join(cycle, " -> "),
			Description:     "files in an import cycle cannot be loaded, tested or reused independently",
			SuggestedFix:    "extract the shared pieces into a module both sides import",
			EstimatedEffort: "large",
			Label:           "File",
			EntityQN:        anchor,
			FilePath:        anchor,
			Metadata:        map[string]any{"cycle": append([]string{}, cycle...)},
		})
	}
	return findings, nil
}

// findCycle DFSes from start and returns the first cycle through
// start, or nil. The visited set bounds the walk on any graph shape.
func findCycle(start string, dependsOn map[string][]string) []string {
	var path []string
	visited := make(map[string]bool)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		if node == start && len(path) > 0 {
			return append([]string{}, path...)
		}
		if visited[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, dep := range dependsOn[node] {
			if cycle := dfs(dep); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	return dfs(start)
}

// canonicalCycle rotates the cycle so its smallest member leads, which
// makes the same cycle found from different entry files compare equal.
func canonicalCycle(cycle []string) string {
	min := 0
	for i, f := range cycle {
		if f < cycle[min] {
			min = i
		}
	}
	rotated := append(append([]string{}, cycle[min:]...), cycle[:min]...)
	return strings.Join(rotated, "|")
}

// MissingTests flags production files of meaningful size that no test
// file imports. A repo with no tests at all gets one repo-level
// finding instead of one per file.
type MissingTests struct{}

func (MissingTests) Name() string     { return "missing_tests" }
func (MissingTests) Category() string { return "quality" }
func (MissingTests) Phase() int       { return 1 }

const minFunctionsForTestCoverage = 3

func (MissingTests) Detect(ctx context.Context, in *detect.Input) ([]detect.Finding, error) {
	hasTests := false
	for _, f := range in.Cache.Files {
		if f.IsTest {
			hasTests = true
			break
		}
	}

	funcsPerFile := make(map[string]int)
	for _, fn := range in.Cache.Functions {
		funcsPerFile[fn.FilePath]++
	}

	if !hasTests {
		for _, f := range sortedFiles(in) {
			if funcsPerFile[f.Path] > 0 {
				return []detect.Finding{{
					Severity:        detect.SeverityMedium,
					Message:         "repository has no test files",
					SuggestedFix:    "start a test suite next to the entry module",
					EstimatedEffort: "large",
					Label:           "File",
					EntityQN:        f.Path,
					FilePath:        f.Path,
				}}, nil
			}
		}
		return nil, nil
	}

	var findings []detect.Finding
	for _, f := range sortedFiles(in) {
		if f.IsTest || funcsPerFile[f.Path] < minFunctionsForTestCoverage {
			continue
		}
		tested := false
		for _, importer := range in.Cache.ImportedBy[f.Path] {
			if imp, ok := in.Cache.Files[importer]; ok && imp.IsTest {
				tested = true
				break
			}
		}
		if tested {
			continue
		}
		findings = append(findings, detect.Finding{
			Severity:        detect.SeverityInfo,
			Confidence:      0.7, // tests may exercise the module indirectly
			Message:         "no test file imports this module",
			SuggestedFix:    "add a test module importing this file",
			EstimatedEffort: "medium",
			Label:           "File",
			EntityQN:        f.Path,
			FilePath:        f.Path,
			Metadata:        map[string]any{"functions": funcsPerFile[f.Path]},
		})
	}
	return findings, nil
}
