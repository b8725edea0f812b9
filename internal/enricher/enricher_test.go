package enricher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph stores flags keyed by entity and answers the enricher's
// queries from memory.
type fakeGraph struct {
	entities map[string]bool   // qualified names present in the graph
	flags    []map[string]any  // stored DetectorMetadata properties
	queries  []string
}

func (f *fakeGraph) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	f.queries = append(f.queries, query)

	switch {
	case strings.Contains(query, "MERGE (m:DetectorMetadata"):
		qn, _ := params["qn"].(string)
		if !f.entities[qn] {
			return []map[string]any{{"matched": int64(0)}}, nil
		}
		f.flags = append(f.flags, map[string]any{
			"id":         params["id"],
			"detector":   params["detector"],
			"runId":      params["runId"],
			"severity":   params["severity"],
			"confidence": params["confidence"],
			"message":    params["message"],
			"issues":     params["issues"],
			"entityQn":   qn,
			"createdAt":  params["createdAt"],
			"metadata":   params["metadata"],
		})
		return []map[string]any{{"matched": int64(1)}}, nil

	case strings.Contains(query, "-[:FLAGGED_BY]->(m:DetectorMetadata)"):
		qn, _ := params["qn"].(string)
		var rows []map[string]any
		for _, fl := range f.flags {
			if fl["entityQn"] == qn {
				rows = append(rows, fl)
			}
		}
		return rows, nil

	case strings.Contains(query, "count(m) as flags"):
		qn, _ := params["qn"].(string)
		detector, _ := params["detector"].(string)
		var n int64
		for _, fl := range f.flags {
			if fl["entityQn"] == qn && fl["detector"] == detector {
				n++
			}
		}
		return []map[string]any{{"flags": n}}, nil

	case strings.Contains(query, "ORDER BY m.createdAt DESC"):
		detector, _ := params["detector"].(string)
		minConfidence, _ := params["minConfidence"].(float64)
		var rows []map[string]any
		for _, fl := range f.flags {
			c, _ := fl["confidence"].(float64)
			if fl["detector"] == detector && c >= minConfidence {
				rows = append(rows, fl)
			}
		}
		return rows, nil

	case strings.Contains(query, "size(detectors) >= $minDetectors"):
		min, _ := params["minDetectors"].(int64)
		byEntity := map[string]map[string]bool{}
		for _, fl := range f.flags {
			qn, _ := fl["entityQn"].(string)
			d, _ := fl["detector"].(string)
			if byEntity[qn] == nil {
				byEntity[qn] = map[string]bool{}
			}
			byEntity[qn][d] = true
		}
		var rows []map[string]any
		for qn, ds := range byEntity {
			if int64(len(ds)) < min {
				continue
			}
			var names []any
			for d := range ds {
				names = append(names, d)
			}
			rows = append(rows, map[string]any{"entity": qn, "detectors": names})
		}
		return rows, nil

	case strings.Contains(query, "flags >= $minFlags"):
		min, _ := params["minFlags"].(int64)
		byEntity := map[string]map[string]bool{}
		for _, fl := range f.flags {
			qn, _ := fl["entityQn"].(string)
			d, _ := fl["detector"].(string)
			if byEntity[qn] == nil {
				byEntity[qn] = map[string]bool{}
			}
			byEntity[qn][d] = true
		}
		var rows []map[string]any
		for qn, ds := range byEntity {
			if int64(len(ds)) < min {
				continue
			}
			var names []any
			for d := range ds {
				names = append(names, d)
			}
			rows = append(rows, map[string]any{"entity": qn, "flags": int64(len(ds)), "detectors": names})
		}
		return rows, nil

	case strings.Contains(query, "DETACH DELETE m"):
		keep, _ := params["keep"].(string)
		var kept []map[string]any
		var removed int64
		for _, fl := range f.flags {
			if keep != "" && fl["runId"] == keep {
				kept = append(kept, fl)
				continue
			}
			removed++
		}
		f.flags = kept
		return []map[string]any{{"removed": removed}}, nil
	}
	return nil, nil
}

func TestFlagEntityRoundTrip(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::big": true}}
	e := New(g, "r1")

	err := e.FlagEntity(context.Background(), "Function", "a.py::big", Flag{
		Detector:   "complexity",
		RunID:      "run-1",
		Severity:   "high",
		Confidence: 0.9,
		Message:    "complexity 25 exceeds 15",
		Issues:     []string{"complexity 25 exceeds 15"},
		Metadata:   map[string]any{"complexity": 25},
	})
	require.NoError(t, err)

	flags, err := e.GetEntityFlags(context.Background(), "Function", "a.py::big")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "complexity", flags[0].Detector)
	assert.Equal(t, "high", flags[0].Severity)
	assert.Equal(t, 0.9, flags[0].Confidence)
	assert.Equal(t, []string{"complexity 25 exceeds 15"}, flags[0].Issues)
	assert.NotEmpty(t, flags[0].ID)
	assert.NotEmpty(t, flags[0].CreatedAt)
	assert.EqualValues(t, 25, flags[0].Metadata["complexity"])

	flagged, err := e.IsEntityFlagged(context.Background(), "Function", "a.py::big", "complexity")
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = e.IsEntityFlagged(context.Background(), "Function", "a.py::big", "god_class")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestFlagEntityMissingTargetIsRecordedNotFatal(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{}}
	e := New(g, "r1")

	err := e.FlagEntity(context.Background(), "Function", "gone.py::f", Flag{Detector: "complexity"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.py::f"}, e.MissingEntities())
	assert.Empty(t, g.flags)
}

func TestFlagEntityRejectsBadLabel(t *testing.T) {
	e := New(&fakeGraph{}, "r1")
	err := e.FlagEntity(context.Background(), "Function) DETACH DELETE n //", "x", Flag{})
	require.Error(t, err)
}

func TestGetFlaggedEntities(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::f": true, "b.py::g": true}}
	e := New(g, "r1")

	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "dead_symbol", Severity: "low", Confidence: 0.6}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "b.py::g", Flag{Detector: "dead_symbol", Severity: "high"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "complexity", Severity: "high"}))

	flags, err := e.GetFlaggedEntities(context.Background(), "dead_symbol", "", 0)
	require.NoError(t, err)
	assert.Len(t, flags, 2)

	// Confidence floor drops the 0.6 flag.
	flags, err = e.GetFlaggedEntities(context.Background(), "dead_symbol", "", 0.7)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "b.py::g", flags[0].EntityQN)

	// Severity floor drops the low flag.
	flags, err = e.GetFlaggedEntities(context.Background(), "dead_symbol", "medium", 0)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "b.py::g", flags[0].EntityQN)

	_, err = e.GetFlaggedEntities(context.Background(), "dead_symbol", "catastrophic", 0)
	require.Error(t, err)
}

func TestFlagConfidenceDefaultsAndClamps(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::f": true}}
	e := New(g, "r1")

	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "d1"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "d2", Confidence: 3}))

	flags, err := e.GetEntityFlags(context.Background(), "Function", "a.py::f")
	require.NoError(t, err)
	require.Len(t, flags, 2)
	for _, fl := range flags {
		assert.Equal(t, 1.0, fl.Confidence)
	}
}

func TestGetDuplicateFindings(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::f": true, "b.py::g": true}}
	e := New(g, "r1")

	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "complexity"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "god_class"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "dead_symbol"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "b.py::g", Flag{Detector: "complexity"}))

	dupes, err := e.GetDuplicateFindings(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, dupes, 1)
	assert.Len(t, dupes["a.py::f"], 3)

	dupes, err = e.GetDuplicateFindings(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, dupes)
}

func TestFindHotspotsThreshold(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::f": true, "b.py::g": true}}
	e := New(g, "r1")

	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "complexity"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "god_class"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "b.py::g", Flag{Detector: "complexity"}))

	hotspots, err := e.FindHotspots(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	assert.Equal(t, 2, hotspots[0].FlagCount)
	assert.Len(t, hotspots[0].Detectors, 2)
}

func TestCleanupMetadataKeepsCurrentRun(t *testing.T) {
	g := &fakeGraph{entities: map[string]bool{"a.py::f": true}}
	e := New(g, "r1")

	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "d1", RunID: "old"}))
	require.NoError(t, e.FlagEntity(context.Background(), "Function", "a.py::f", Flag{Detector: "d2", RunID: "new"}))

	removed, err := e.CleanupMetadata(context.Background(), "new")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	require.Len(t, g.flags, 1)
	assert.Equal(t, "new", g.flags[0]["runId"])
}
