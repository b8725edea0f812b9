package graph

import (
	"context"
	"fmt"
)

// schemaIndexes is the index set every tenant graph gets. Creation is
// idempotent (IF NOT EXISTS) so ensure-schema can run at the start of
// every ingestion.
var schemaIndexes = []struct {
	name  string
	label string
	props []string
}{
	{"file_repo", LabelFile, []string{"repoId"}},
	{"module_repo", LabelModule, []string{"repoId"}},
	{"class_repo", LabelClass, []string{"repoId"}},
	{"function_repo", LabelFunction, []string{"repoId"}},
	{"metadata_repo", LabelDetectorMetadata, []string{"repoId"}},
	{"file_path", LabelFile, []string{"filePath"}},
	{"file_lang_test", LabelFile, []string{"language", "isTest"}},
	{"class_qn", LabelClass, []string{"qualifiedName"}},
	{"class_name", LabelClass, []string{"name"}},
	{"function_qn", LabelFunction, []string{"qualifiedName"}},
	{"function_name", LabelFunction, []string{"name"}},
	{"module_qn", LabelModule, []string{"qualifiedName"}},
	{"metadata_id", LabelDetectorMetadata, []string{"id"}},
	{"metadata_detector", LabelDetectorMetadata, []string{"detector"}},
}

// CreateIndexes creates the schema index set appropriate to the
// backend. With constraint support, the per-repo unique keys are
// range indexes (uniqueness is scoped to repoId, which a plain
// uniqueness constraint cannot express).
func (c *Client) CreateIndexes(ctx context.Context) error {
	for _, idx := range schemaIndexes {
		props := ""
		for i, p := range idx.props {
			if err := requireIdentifier("index property", p); err != nil {
				return err
			}
			if i > 0 {
				props += ", "
			}
			props += "n." + p
		}

		query := fmt.Sprintf(
			"CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)",
			idx.name, idx.label, props)

		if _, err := c.ExecuteQuery(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	c.logger.Debug("schema indexes ensured", "count", len(schemaIndexes))
	return nil
}
