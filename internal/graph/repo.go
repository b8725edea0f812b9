package graph

import (
	"context"
	"fmt"
)

// DeleteFileEntities removes a file node and its contained subgraph
// (classes, functions, modules declared in it), returning the count of
// removed nodes. Edges die with their endpoints via DETACH DELETE.
func (c *Client) DeleteFileEntities(ctx context.Context, repoID, path string) (int64, error) {
	query := `
		MATCH (f:File {repoId: $repoId, filePath: $path})
		OPTIONAL MATCH (f)-[:CONTAINS*1..3]->(child)
		WITH f, collect(DISTINCT child) as children
		UNWIND ([f] + children) as node
		WITH DISTINCT node
		DETACH DELETE node
		RETURN count(node) as removed
	`
	removed, err := c.ExecuteWrite(ctx, query, map[string]any{
		"repoId": repoID,
		"path":   path,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete subgraph for %s: %w", path, err)
	}
	c.logger.Debug("file subgraph deleted", "path", path, "removed", removed)
	return removed, nil
}

// DeleteRepository purges every node tagged with the repoId, including
// external-symbol nodes and detector metadata. Returns the count of
// removed nodes.
func (c *Client) DeleteRepository(ctx context.Context, repoID string) (int64, error) {
	// Delete in slices to keep transaction memory bounded on big repos.
	var total int64
	for {
		removed, err := c.ExecuteWrite(ctx, `
			MATCH (n {repoId: $repoId})
			WITH n LIMIT $limit
			DETACH DELETE n
			RETURN count(n) as removed
		`, map[string]any{"repoId": repoID, "limit": int64(10000)})
		if err != nil {
			return total, fmt.Errorf("failed to delete repository %s: %w", repoID, err)
		}
		total += removed
		if removed == 0 {
			break
		}
	}

	c.logger.Info("repository purged from graph", "repo_id", repoID, "removed", total)
	return total, nil
}

// AllFilePaths returns the repo-relative paths of every File node the
// repo currently has in the graph. Input to incremental diffing.
func (c *Client) AllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	rows, err := c.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId})
		RETURN f.filePath as path
	`, map[string]any{"repoId": repoID})
	if err != nil {
		return nil, fmt.Errorf("failed to list file paths: %w", err)
	}

	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		if p, ok := row["path"].(string); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// GetFileMetadata returns the stored content hash and modification time
// for one file, or nil when the file is not in the graph yet.
func (c *Client) GetFileMetadata(ctx context.Context, repoID, path string) (*FileMetadata, error) {
	rows, err := c.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId, filePath: $path})
		RETURN f.contentHash as hash, f.lastModified as lastModified
	`, map[string]any{"repoId": repoID, "path": path})
	if err != nil {
		return nil, fmt.Errorf("failed to read file metadata for %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	meta := &FileMetadata{}
	if h, ok := rows[0]["hash"].(string); ok {
		meta.ContentHash = h
	}
	if m, ok := rows[0]["lastModified"].(string); ok {
		meta.LastModified = m
	}
	return meta, nil
}

// FileHashes returns path -> content hash for the whole repo in one
// round trip; the incremental diff uses this instead of per-file reads.
func (c *Client) FileHashes(ctx context.Context, repoID string) (map[string]string, error) {
	rows, err := c.ExecuteQuery(ctx, `
		MATCH (f:File {repoId: $repoId})
		RETURN f.filePath as path, f.contentHash as hash
	`, map[string]any{"repoId": repoID})
	if err != nil {
		return nil, fmt.Errorf("failed to read file hashes: %w", err)
	}

	hashes := make(map[string]string, len(rows))
	for _, row := range rows {
		path, _ := row["path"].(string)
		hash, _ := row["hash"].(string)
		if path != "" {
			hashes[path] = hash
		}
	}
	return hashes, nil
}

// CountNodes returns the number of nodes tagged with the repoId.
// Used by deletion-completeness checks and operator stats.
func (c *Client) CountNodes(ctx context.Context, repoID string) (int64, error) {
	rows, err := c.ExecuteQuery(ctx, `
		MATCH (n {repoId: $repoId})
		RETURN count(n) as count
	`, map[string]any{"repoId": repoID})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0]["count"].(int64)
	return n, nil
}
