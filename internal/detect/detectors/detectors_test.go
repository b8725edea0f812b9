package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/querycache"
)

func inputWith(c *querycache.Cache) *detect.Input {
	if c.Functions == nil {
		c.Functions = map[string]*querycache.FunctionInfo{}
	}
	if c.Classes == nil {
		c.Classes = map[string]*querycache.ClassInfo{}
	}
	if c.Files == nil {
		c.Files = map[string]*querycache.FileInfo{}
	}
	if c.CalledBy == nil {
		c.CalledBy = map[string][]string{}
	}
	if c.ImportedBy == nil {
		c.ImportedBy = map[string][]string{}
	}
	return &detect.Input{Cache: c, RepoID: "r1", RunID: "run"}
}

func TestComplexityThresholds(t *testing.T) {
	in := inputWith(&querycache.Cache{Functions: map[string]*querycache.FunctionInfo{
		"a.py::ok":   {QualifiedName: "a.py::ok", FilePath: "a.py", Complexity: 10},
		"a.py::warn": {QualifiedName: "a.py::warn", FilePath: "a.py", Complexity: 11},
		"a.py::bad":  {QualifiedName: "a.py::bad", FilePath: "a.py", Complexity: 16},
	}})

	findings, err := Complexity{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	bySev := map[string]string{}
	for _, f := range findings {
		bySev[f.EntityQN] = f.Severity
	}
	assert.Equal(t, detect.SeverityMedium, bySev["a.py::warn"])
	assert.Equal(t, detect.SeverityHigh, bySev["a.py::bad"])

	// Remediation fields ride along with every finding.
	for _, f := range findings {
		assert.NotEmpty(t, f.SuggestedFix)
		assert.NotEmpty(t, f.EstimatedEffort)
		assert.NotEmpty(t, f.Description)
	}
}

func TestGodClass(t *testing.T) {
	in := inputWith(&querycache.Cache{Classes: map[string]*querycache.ClassInfo{
		"a.py::Small": {QualifiedName: "a.py::Small", MethodCount: 9},
		"a.py::Big":   {QualifiedName: "a.py::Big", MethodCount: 12},
		"a.py::Huge":  {QualifiedName: "a.py::Huge", MethodCount: 20},
		"a.py::Err":   {QualifiedName: "a.py::Err", MethodCount: 20, IsException: true},
	}})

	findings, err := GodClass{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "a.py::Big", findings[0].EntityQN)
	assert.Equal(t, detect.SeverityMedium, findings[0].Severity)
	assert.Equal(t, detect.SeverityHigh, findings[1].Severity)
}

func paramNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	return names
}

func TestLongParameterListSkipsReceiver(t *testing.T) {
	in := inputWith(&querycache.Cache{Functions: map[string]*querycache.FunctionInfo{
		// 6 params incl. self -> 5 effective, under threshold
		"a.py::C.m": {QualifiedName: "a.py::C.m", Parameters: paramNames(6), IsMethod: true},
		// 6 effective params -> flagged
		"a.py::f": {QualifiedName: "a.py::f", Parameters: paramNames(6)},
		// 9 effective -> high
		"a.py::g": {QualifiedName: "a.py::g", Parameters: paramNames(9)},
	}})

	findings, err := LongParameterList{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "a.py::f", findings[0].EntityQN)
	assert.Equal(t, detect.SeverityMedium, findings[0].Severity)
	assert.Equal(t, detect.SeverityHigh, findings[1].Severity)
	assert.Contains(t, findings[0].Description, "a, b, c")
}

func TestDeadSymbol(t *testing.T) {
	in := inputWith(&querycache.Cache{
		Functions: map[string]*querycache.FunctionInfo{
			"a.py::used":   {QualifiedName: "a.py::used", Name: "used", FilePath: "a.py"},
			"a.py::unused": {QualifiedName: "a.py::unused", Name: "unused", FilePath: "a.py"},
			"a.py::main":   {QualifiedName: "a.py::main", Name: "main", FilePath: "a.py"},
			"a.py::C.m":    {QualifiedName: "a.py::C.m", Name: "m", FilePath: "a.py", IsMethod: true},
			"t.py::helper": {QualifiedName: "t.py::helper", Name: "helper", FilePath: "t.py"},
		},
		CalledBy: map[string][]string{"a.py::used": {"a.py::main"}},
		Files: map[string]*querycache.FileInfo{
			"a.py": {Path: "a.py"},
			"t.py": {Path: "t.py", IsTest: true},
		},
	})

	findings, err := DeadSymbol{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.py::unused", findings[0].EntityQN)
}

func TestCircularImport(t *testing.T) {
	in := inputWith(&querycache.Cache{ImportedBy: map[string][]string{
		// a imports b, b imports a; c is acyclic
		"b.py": {"a.py"},
		"a.py": {"b.py"},
		"d.py": {"c.py"},
	}})

	findings, err := CircularImport{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, detect.SeverityHigh, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "a.py")
	assert.Contains(t, findings[0].Message, "b.py")
}

func TestCircularImportNoCycle(t *testing.T) {
	in := inputWith(&querycache.Cache{ImportedBy: map[string][]string{
		"b.py": {"a.py"},
		"c.py": {"b.py"},
	}})

	findings, err := CircularImport{}.Detect(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestMissingTestsNoTestFiles(t *testing.T) {
	in := inputWith(&querycache.Cache{
		Files: map[string]*querycache.FileInfo{"a.py": {Path: "a.py"}},
		Functions: map[string]*querycache.FunctionInfo{
			"a.py::f": {QualifiedName: "a.py::f", FilePath: "a.py"},
		},
	})

	findings, err := MissingTests{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "repository has no test files", findings[0].Message)
}

func TestMissingTestsPerFile(t *testing.T) {
	in := inputWith(&querycache.Cache{
		Files: map[string]*querycache.FileInfo{
			"covered.py":   {Path: "covered.py"},
			"uncovered.py": {Path: "uncovered.py"},
			"tiny.py":      {Path: "tiny.py"},
			"test_c.py":    {Path: "test_c.py", IsTest: true},
		},
		Functions: map[string]*querycache.FunctionInfo{
			"covered.py::a":   {FilePath: "covered.py"},
			"covered.py::b":   {FilePath: "covered.py"},
			"covered.py::c":   {FilePath: "covered.py"},
			"uncovered.py::a": {FilePath: "uncovered.py"},
			"uncovered.py::b": {FilePath: "uncovered.py"},
			"uncovered.py::c": {FilePath: "uncovered.py"},
			"tiny.py::a":      {FilePath: "tiny.py"},
		},
		ImportedBy: map[string][]string{"covered.py": {"test_c.py"}},
	})

	findings, err := MissingTests{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "uncovered.py", findings[0].FilePath)
	assert.Equal(t, detect.SeverityInfo, findings[0].Severity)
	assert.InDelta(t, 0.7, findings[0].Confidence, 0.001)
}

func TestHotspotEscalates(t *testing.T) {
	in := inputWith(&querycache.Cache{})
	in.Phase1 = []detect.Finding{
		{Detector: "complexity", Severity: detect.SeverityHigh, EntityQN: "a.py::f", FilePath: "a.py", Label: "Function"},
		{Detector: "long_parameter_list", Severity: detect.SeverityMedium, EntityQN: "a.py::f", FilePath: "a.py", Label: "Function"},
		{Detector: "complexity", Severity: detect.SeverityLow, EntityQN: "a.py::g", FilePath: "a.py", Label: "Function"},
	}

	findings, err := Hotspot{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.py::f", findings[0].EntityQN)
	assert.Equal(t, detect.SeverityCritical, findings[0].Severity)
	assert.Equal(t, []string{"complexity", "long_parameter_list"}, findings[0].Metadata["detectors"])
	assert.Len(t, findings[0].Issues, 2)
}

// staticFlagger answers flag queries from a fixed detector list.
type staticFlagger struct {
	detectors []string
}

func (s *staticFlagger) FlagFinding(ctx context.Context, f detect.Finding) error { return nil }

func (s *staticFlagger) FlaggedDetectors(ctx context.Context, label, qualifiedName string) ([]string, error) {
	return s.detectors, nil
}

func TestHotspotConsultsGraphFlags(t *testing.T) {
	in := inputWith(&querycache.Cache{})
	in.Phase1 = []detect.Finding{
		{Detector: "complexity", Severity: detect.SeverityMedium, EntityQN: "a.py::f", FilePath: "a.py", Label: "Function", Message: "m"},
	}
	in.Flags = &staticFlagger{detectors: []string{"god_class"}}

	// One phase 1 detector alone is no hotspot; a second verdict known
	// only to the graph tips it over.
	findings, err := Hotspot{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"complexity", "god_class"}, findings[0].Metadata["detectors"])
}

func TestRiskCorrelation(t *testing.T) {
	in := inputWith(&querycache.Cache{})
	in.Phase1 = []detect.Finding{
		{Detector: "complexity", Severity: detect.SeverityMedium, EntityQN: "a.py::f", FilePath: "a.py"},
		{Detector: "god_class", Severity: detect.SeverityHigh, EntityQN: "a.py::C", FilePath: "a.py"},
		{Detector: "dead_symbol", Severity: detect.SeverityLow, EntityQN: "a.py::g", FilePath: "a.py"},
		{Detector: "complexity", Severity: detect.SeverityHigh, EntityQN: "b.py::h", FilePath: "b.py"},
	}

	findings, err := RiskCorrelation{}.Detect(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.py", findings[0].FilePath)
	assert.Equal(t, detect.SeverityCritical, findings[0].Severity)
}

func TestDefaultRegistryIsValid(t *testing.T) {
	set := Default()
	require.NotEmpty(t, set)

	_, err := detect.NewEngine(set)
	require.NoError(t, err)

	var phase2 int
	for _, d := range set {
		if d.Phase() == 2 {
			phase2++
		}
	}
	assert.Equal(t, 2, phase2)
}
