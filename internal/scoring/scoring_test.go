package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/querycache"
)

func cacheWithEntities(functions int) *querycache.Cache {
	c := &querycache.Cache{Functions: map[string]*querycache.FunctionInfo{}}
	for i := 0; i < functions; i++ {
		qn := string(rune('a'+i)) + ".py::f"
		c.Functions[qn] = &querycache.FunctionInfo{QualifiedName: qn}
	}
	return c
}

func TestEmptyRepoScoresPerfect(t *testing.T) {
	s := Compute(&querycache.Cache{}, nil)
	assert.Equal(t, 100.0, s.Health)
	assert.Equal(t, 100.0, s.Structure)
	assert.Equal(t, 100.0, s.Quality)
	assert.Equal(t, 100.0, s.Architecture)
}

func TestNoFindingsScoresPerfect(t *testing.T) {
	s := Compute(cacheWithEntities(10), nil)
	assert.Equal(t, 100.0, s.Health)
}

func TestFindingsLowerScores(t *testing.T) {
	findings := []detect.Finding{
		{Category: "quality", Severity: detect.SeverityHigh},
		{Category: "quality", Severity: detect.SeverityMedium},
		{Category: "architecture", Severity: detect.SeverityCritical},
	}
	s := Compute(cacheWithEntities(10), findings)

	// quality: penalty 7, density 0.7 -> 100 - 17.5 = 82.5
	assert.Equal(t, 82.5, s.Quality)
	// architecture: penalty 10, density 1.0 -> 75
	assert.Equal(t, 75.0, s.Architecture)
	assert.Equal(t, 100.0, s.Structure)
	// health: 0.3*100 + 0.4*82.5 + 0.3*75 = 85.5
	assert.Equal(t, 85.5, s.Health)
}

func TestInfoFindingsPenalizeLightly(t *testing.T) {
	info := Compute(cacheWithEntities(10), []detect.Finding{{Category: "quality", Severity: detect.SeverityInfo}})
	low := Compute(cacheWithEntities(10), []detect.Finding{{Category: "quality", Severity: detect.SeverityLow}})
	assert.Greater(t, info.Quality, low.Quality)
	assert.Less(t, info.Quality, 100.0)
}

func TestScoreFloorsAtZero(t *testing.T) {
	var findings []detect.Finding
	for i := 0; i < 100; i++ {
		findings = append(findings, detect.Finding{Category: "quality", Severity: detect.SeverityCritical})
	}
	s := Compute(cacheWithEntities(2), findings)
	assert.Equal(t, 0.0, s.Quality)
}

func TestDeterminism(t *testing.T) {
	findings := []detect.Finding{
		{Category: "structure", Severity: detect.SeverityHigh},
		{Category: "quality", Severity: detect.SeverityLow},
	}
	first := Compute(cacheWithEntities(5), findings)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compute(cacheWithEntities(5), findings))
	}
}

func TestDelta(t *testing.T) {
	assert.Equal(t, -12.5, Delta(70.0, 82.5))
	assert.Equal(t, 5.0, Delta(90.0, 85.0))
	assert.Equal(t, 0.0, Delta(80.0, 80.0))
}
