// Package enricher writes detector verdicts back into the graph as
// DetectorMetadata nodes linked to the entities they flag. Enrichment
// is best-effort: a failed write is logged and recorded, never fatal
// to the analysis run.
package enricher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	rserr "github.com/reposage/reposage/internal/errors"
	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/querycache"
)

// Enricher flags graph entities on behalf of detectors.
type Enricher struct {
	q      querycache.Querier
	repoID string
	logger *slog.Logger

	// entities the caller asked to flag that were not in the graph;
	// surfaced in the run report instead of failing the run
	missing []string
}

// New returns an enricher bound to one repository.
func New(q querycache.Querier, repoID string) *Enricher {
	return &Enricher{
		q:      q,
		repoID: repoID,
		logger: slog.Default().With("component", "enricher", "repo_id", repoID),
	}
}

// Flag is one stored detector verdict. Confidence is the detector's
// certainty in [0, 1]; Issues lists the concrete problems behind the
// verdict.
type Flag struct {
	ID         string         `json:"id"`
	Detector   string         `json:"detector"`
	RunID      string         `json:"runId"`
	Severity   string         `json:"severity"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	Issues     []string       `json:"issues,omitempty"`
	EntityQN   string         `json:"entityQn"`
	CreatedAt  string         `json:"createdAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// severityOrder ranks severities for minimum-severity filters.
var severityOrder = map[string]int{
	"info":     0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// MissingEntities lists qualified names that could not be flagged
// because the entity was absent from the graph.
func (e *Enricher) MissingEntities() []string {
	return append([]string(nil), e.missing...)
}

// FlagEntity attaches a DetectorMetadata node to the named entity via
// a FLAGGED_BY edge. A missing entity is recorded and logged, not an
// error: detector output can momentarily outrun a concurrent
// re-ingestion and that must not sink the run.
func (e *Enricher) FlagEntity(ctx context.Context, label, qualifiedName string, flag Flag) error {
	if !graph.ValidIdentifier(label) {
		return rserr.Validationf("invalid node label %q", label)
	}
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	if flag.CreatedAt == "" {
		flag.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	flag.EntityQN = qualifiedName
	// zero means unset; out-of-range values are clamped
	switch {
	case flag.Confidence == 0:
		flag.Confidence = 1
	case flag.Confidence < 0:
		flag.Confidence = 0
	case flag.Confidence > 1:
		flag.Confidence = 1
	}
	if flag.Issues == nil {
		flag.Issues = []string{}
	}

	metaJSON := "{}"
	if len(flag.Metadata) > 0 {
		if raw, err := json.Marshal(flag.Metadata); err == nil {
			metaJSON = string(raw)
		}
	}

	key := graph.UniqueKeyForLabel(label)
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (n:`+label+` {repoId: $repoId, `+key+`: $qn})
		MERGE (m:DetectorMetadata {repoId: $repoId, id: $id})
		SET m.detector = $detector,
		    m.runId = $runId,
		    m.severity = $severity,
		    m.confidence = $confidence,
		    m.message = $message,
		    m.issues = $issues,
		    m.entityQn = $qn,
		    m.createdAt = $createdAt,
		    m.metadata = $metadata
		MERGE (n)-[:FLAGGED_BY]->(m)
		RETURN count(n) as matched
	`, map[string]any{
		"repoId":     e.repoID,
		"qn":         qualifiedName,
		"id":         flag.ID,
		"detector":   flag.Detector,
		"runId":      flag.RunID,
		"severity":   flag.Severity,
		"confidence": flag.Confidence,
		"message":    flag.Message,
		"issues":     flag.Issues,
		"createdAt":  flag.CreatedAt,
		"metadata":   metaJSON,
	})
	if err != nil {
		e.logger.Warn("flag write failed", "detector", flag.Detector, "entity", qualifiedName, "error", err)
		return err
	}

	matched := int64(0)
	if len(rows) > 0 {
		matched, _ = rows[0]["matched"].(int64)
	}
	if matched == 0 {
		e.logger.Warn("flag target missing from graph",
			"detector", flag.Detector, "label", label, "entity", qualifiedName)
		e.missing = append(e.missing, qualifiedName)
	}
	return nil
}

// GetEntityFlags returns every flag attached to one entity.
func (e *Enricher) GetEntityFlags(ctx context.Context, label, qualifiedName string) ([]Flag, error) {
	if !graph.ValidIdentifier(label) {
		return nil, rserr.Validationf("invalid node label %q", label)
	}
	key := graph.UniqueKeyForLabel(label)
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (n:`+label+` {repoId: $repoId, `+key+`: $qn})-[:FLAGGED_BY]->(m:DetectorMetadata)
		RETURN m.id as id, m.detector as detector, m.runId as runId,
		       m.severity as severity, m.confidence as confidence,
		       m.message as message, m.issues as issues,
		       m.entityQn as entityQn, m.createdAt as createdAt, m.metadata as metadata
	`, map[string]any{"repoId": e.repoID, "qn": qualifiedName})
	if err != nil {
		return nil, err
	}
	return flagsFromRows(rows), nil
}

// IsEntityFlagged reports whether a detector has flagged the entity.
func (e *Enricher) IsEntityFlagged(ctx context.Context, label, qualifiedName, detector string) (bool, error) {
	if !graph.ValidIdentifier(label) {
		return false, rserr.Validationf("invalid node label %q", label)
	}
	key := graph.UniqueKeyForLabel(label)
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (n:`+label+` {repoId: $repoId, `+key+`: $qn})-[:FLAGGED_BY]->(m:DetectorMetadata {detector: $detector})
		RETURN count(m) as flags
	`, map[string]any{"repoId": e.repoID, "qn": qualifiedName, "detector": detector})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	n, _ := rows[0]["flags"].(int64)
	return n > 0, nil
}

// GetFlaggedEntities returns the flags written by one detector, most
// recent first. minSeverity ("" for all) and minConfidence (0 for all)
// narrow the result.
func (e *Enricher) GetFlaggedEntities(ctx context.Context, detector, minSeverity string, minConfidence float64) ([]Flag, error) {
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (m:DetectorMetadata {repoId: $repoId, detector: $detector})
		WHERE coalesce(m.confidence, 1.0) >= $minConfidence
		RETURN m.id as id, m.detector as detector, m.runId as runId,
		       m.severity as severity, m.confidence as confidence,
		       m.message as message, m.issues as issues,
		       m.entityQn as entityQn, m.createdAt as createdAt, m.metadata as metadata
		ORDER BY m.createdAt DESC
	`, map[string]any{"repoId": e.repoID, "detector": detector, "minConfidence": minConfidence})
	if err != nil {
		return nil, err
	}
	flags := flagsFromRows(rows)
	if minSeverity == "" {
		return flags, nil
	}
	floor, ok := severityOrder[minSeverity]
	if !ok {
		return nil, rserr.Validationf("unknown severity %q", minSeverity)
	}
	kept := flags[:0]
	for _, f := range flags {
		if severityOrder[f.Severity] >= floor {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// GetDuplicateFindings returns entities flagged by at least
// minDetectors distinct detectors (floor 2), with the set of detectors
// that agree on each.
func (e *Enricher) GetDuplicateFindings(ctx context.Context, minDetectors int) (map[string][]string, error) {
	if minDetectors < 2 {
		minDetectors = 2
	}
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (m:DetectorMetadata {repoId: $repoId})
		WITH m.entityQn as entity, collect(DISTINCT m.detector) as detectors
		WHERE size(detectors) >= $minDetectors
		RETURN entity, detectors
	`, map[string]any{"repoId": e.repoID, "minDetectors": int64(minDetectors)})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(rows))
	for _, row := range rows {
		entity, _ := row["entity"].(string)
		if entity == "" {
			continue
		}
		raw, _ := row["detectors"].([]any)
		detectors := make([]string, 0, len(raw))
		for _, d := range raw {
			if s, ok := d.(string); ok {
				detectors = append(detectors, s)
			}
		}
		out[entity] = detectors
	}
	return out, nil
}

// Hotspot is an entity ranked by how many distinct detectors flag it.
type Hotspot struct {
	EntityQN  string
	FlagCount int
	Detectors []string
}

// FindHotspots returns the most-flagged entities, descending. Entities
// with fewer than minFlags distinct detectors are dropped. Every
// pattern in the query is pinned to the repoId so shared-database
// tenants never pollute each other's hotspot ranking.
func (e *Enricher) FindHotspots(ctx context.Context, minFlags, limit int) ([]Hotspot, error) {
	if minFlags <= 0 {
		minFlags = 1
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.q.ExecuteQuery(ctx, `
		MATCH (n {repoId: $repoId})-[:FLAGGED_BY]->(m:DetectorMetadata {repoId: $repoId})
		WITH n, count(DISTINCT m.detector) as flags, collect(DISTINCT m.detector) as detectors
		WHERE flags >= $minFlags
		RETURN coalesce(n.qualifiedName, n.filePath) as entity, flags, detectors
		ORDER BY flags DESC, entity ASC
		LIMIT $limit
	`, map[string]any{"repoId": e.repoID, "minFlags": int64(minFlags), "limit": int64(limit)})
	if err != nil {
		return nil, err
	}

	out := make([]Hotspot, 0, len(rows))
	for _, row := range rows {
		h := Hotspot{EntityQN: str(row["entity"])}
		if n, ok := row["flags"].(int64); ok {
			h.FlagCount = int(n)
		}
		if raw, ok := row["detectors"].([]any); ok {
			for _, d := range raw {
				if s, ok := d.(string); ok {
					h.Detectors = append(h.Detectors, s)
				}
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// CleanupMetadata deletes flags from runs other than keepRunID, or all
// flags when keepRunID is empty. Returns the number removed.
func (e *Enricher) CleanupMetadata(ctx context.Context, keepRunID string) (int64, error) {
	query := `
		MATCH (m:DetectorMetadata {repoId: $repoId})
		WHERE $keep = '' OR m.runId <> $keep
		DETACH DELETE m
		RETURN count(m) as removed
	`
	rows, err := e.q.ExecuteQuery(ctx, query, map[string]any{
		"repoId": e.repoID,
		"keep":   keepRunID,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	removed, _ := rows[0]["removed"].(int64)
	return removed, nil
}

func flagsFromRows(rows []map[string]any) []Flag {
	flags := make([]Flag, 0, len(rows))
	for _, row := range rows {
		f := Flag{
			ID:         str(row["id"]),
			Detector:   str(row["detector"]),
			RunID:      str(row["runId"]),
			Severity:   str(row["severity"]),
			Confidence: fl(row["confidence"]),
			Message:    str(row["message"]),
			Issues:     strList(row["issues"]),
			EntityQN:   str(row["entityQn"]),
			CreatedAt:  str(row["createdAt"]),
		}
		if f.Confidence == 0 {
			f.Confidence = 1 // flags written before confidence existed
		}
		if raw := str(row["metadata"]); raw != "" && raw != "{}" {
			_ = json.Unmarshal([]byte(raw), &f.Metadata)
		}
		flags = append(flags, f)
	}
	return flags
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func fl(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func strList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
