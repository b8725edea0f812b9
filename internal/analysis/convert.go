package analysis

import (
	"encoding/json"

	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/models"
)

// graphContext is the JSON stored alongside a finding so later runs
// can rebuild detector input without re-querying the graph.
type graphContext struct {
	EntityQN   string         `json:"entity_qn,omitempty"`
	Label      string         `json:"label,omitempty"`
	Category   string         `json:"category,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Issues     []string       `json:"issues,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// rowsFromFindings converts engine output into persisted rows.
func rowsFromFindings(runID string, findings []detect.Finding) []*models.FindingRow {
	rows := make([]*models.FindingRow, 0, len(findings))
	for _, f := range findings {
		files, _ := json.Marshal(filesOf(f))
		gctx, _ := json.Marshal(graphContext{
			EntityQN:   f.EntityQN,
			Label:      f.Label,
			Category:   f.Category,
			Confidence: f.Confidence,
			Issues:     f.Issues,
			Metadata:   f.Metadata,
		})

		row := &models.FindingRow{
			ID:              f.ID,
			AnalysisRunID:   runID,
			Detector:        f.Detector,
			Severity:        f.Severity,
			Title:           f.Message,
			Description:     f.Description,
			SuggestedFix:    f.SuggestedFix,
			EstimatedEffort: f.EstimatedEffort,
			Files:           string(files),
			GraphContext:    string(gctx),
			CollabMeta:      "{}",
		}
		if f.Line > 0 {
			line := f.Line
			row.LineStart = &line
		}
		rows = append(rows, row)
	}
	return rows
}

func filesOf(f detect.Finding) []string {
	if f.FilePath == "" {
		return []string{}
	}
	return []string{f.FilePath}
}

// findingsFromRows rebuilds prior findings for detectors that compare
// against the previous run. Rows with unreadable context degrade to
// the fields the row itself carries.
func findingsFromRows(rows []*models.FindingRow) []detect.Finding {
	findings := make([]detect.Finding, 0, len(rows))
	for _, row := range rows {
		f := detect.Finding{
			ID:              row.ID,
			Detector:        row.Detector,
			Severity:        row.Severity,
			Message:         row.Title,
			Description:     row.Description,
			SuggestedFix:    row.SuggestedFix,
			EstimatedEffort: row.EstimatedEffort,
		}
		var gctx graphContext
		if err := json.Unmarshal([]byte(row.GraphContext), &gctx); err == nil {
			f.EntityQN = gctx.EntityQN
			f.Label = gctx.Label
			f.Category = gctx.Category
			f.Confidence = gctx.Confidence
			f.Issues = gctx.Issues
			f.Metadata = gctx.Metadata
		}
		var files []string
		if err := json.Unmarshal([]byte(row.Files), &files); err == nil && len(files) > 0 {
			f.FilePath = files[0]
		}
		if row.LineStart != nil {
			f.Line = *row.LineStart
		}
		findings = append(findings, f)
	}
	return findings
}
