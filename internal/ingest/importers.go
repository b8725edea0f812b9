package ingest

import (
	"context"
	"sort"
)

// importersOf returns the transitive closure of files importing any of
// the seed paths, walking IMPORTED_BY edges breadth-first. A visited
// set breaks import cycles, so a diamond or circular import chain
// reparses each file exactly once. Query failures degrade to an empty
// result: stale cross-file edges are repaired on the next full run.
func (p *Pipeline) importersOf(ctx context.Context, repoID string, seeds []string) []string {
	if len(seeds) == 0 {
		return nil
	}

	visited := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		visited[s] = true
	}

	frontier := seeds
	var out []string
	for len(frontier) > 0 {
		rows, err := p.store.ExecuteQuery(ctx, `
			MATCH (f:File {repoId: $repoId})-[:IMPORTED_BY]->(importer:File {repoId: $repoId})
			WHERE f.filePath IN $paths
			RETURN DISTINCT importer.filePath as path
		`, map[string]any{"repoId": repoID, "paths": frontier})
		if err != nil {
			p.logger.Warn("importer lookup failed, skipping dependency reparse", "error", err)
			return nil
		}

		var next []string
		for _, row := range rows {
			path, _ := row["path"].(string)
			if path == "" || visited[path] {
				continue
			}
			visited[path] = true
			next = append(next, path)
			out = append(out, path)
		}
		frontier = next
	}

	sort.Strings(out)
	return out
}
