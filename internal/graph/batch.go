package graph

import (
	"context"
	"fmt"

	rserr "github.com/reposage/reposage/internal/errors"
)

// DefaultBatchSize bounds the number of rows per UNWIND statement.
const DefaultBatchSize = 100

// BatchCreateNodes upserts entities grouped by label. Each label gets
// one bulk UNWIND statement that MERGEs on (repoId, unique key) and
// reassigns all mapped properties on match, so repeated application is
// idempotent. Every entity must carry a repoId tag.
func (c *Client) BatchCreateNodes(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	byLabel := make(map[string][]map[string]any)
	for _, e := range entities {
		if _, ok := e.Properties["repoId"]; !ok {
			return rserr.Internalf("entity %v missing repoId tag", e.Properties[e.UniqueKey()])
		}
		byLabel[e.Label] = append(byLabel[e.Label], e.Properties)
	}

	for label, nodes := range byLabel {
		if err := requireIdentifier("node label", label); err != nil {
			return rserr.Permanent(err, "batch node create rejected")
		}
		key := UniqueKeyForLabel(label)

		query := fmt.Sprintf(`
			UNWIND $nodes AS node
			MERGE (n:%s {repoId: node.repoId, %s: node.%s})
			SET n += node
			RETURN count(n) as created
		`, label, key, key)

		for start := 0; start < len(nodes); start += DefaultBatchSize {
			end := start + DefaultBatchSize
			if end > len(nodes) {
				end = len(nodes)
			}
			batch := nodes[start:end]

			if err := c.runBatchWithDegrade(ctx, label, key, query, batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatchWithDegrade executes one bulk statement; if the bulk form
// still fails after adapter retries, it degrades to per-entity upserts
// so a single poisoned row cannot sink the whole batch.
func (c *Client) runBatchWithDegrade(ctx context.Context, label, key, query string, batch []map[string]any) error {
	_, bulkErr := c.ExecuteQuery(ctx, query, map[string]any{"nodes": batch})
	if bulkErr == nil {
		return nil
	}

	c.logger.Warn("bulk node load failed, degrading to per-entity upsert",
		"label", label, "batch_size", len(batch), "error", bulkErr)

	single := fmt.Sprintf(`
		MERGE (n:%s {repoId: $node.repoId, %s: $node.%s})
		SET n += $node
		RETURN count(n) as created
	`, label, key, key)

	for _, node := range batch {
		if _, err := c.ExecuteQuery(ctx, single, map[string]any{"node": node}); err != nil {
			return fmt.Errorf("node upsert failed for %s %v: %w", label, node[key], err)
		}
	}
	return nil
}

// BatchCreateRelationships creates edges grouped by relationship type.
// Internal edges (both endpoints live in the scanned tree) use strict
// MATCH on both endpoints so a missing endpoint surfaces as a skipped
// edge instead of a silently invented node, which would mask parser
// bugs. External edges MERGE their target under its external label.
func (c *Client) BatchCreateRelationships(ctx context.Context, repoID string, rels []Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	type groupKey struct {
		relType   string
		fromLabel string
		toLabel   string
		external  bool
	}
	groups := make(map[groupKey][]Relationship)
	for _, rel := range rels {
		toLabel := rel.ToLabel
		if rel.External {
			toLabel = rel.ExternalLabel
			if toLabel == "" {
				toLabel = LabelExternalFunction
			}
		}
		groups[groupKey{rel.Type, rel.FromLabel, toLabel, rel.External}] = append(
			groups[groupKey{rel.Type, rel.FromLabel, toLabel, rel.External}], rel)
	}

	for key, group := range groups {
		for _, ident := range []struct{ kind, val string }{
			{"relationship type", key.relType},
			{"node label", key.fromLabel},
			{"node label", key.toLabel},
		} {
			if err := requireIdentifier(ident.kind, ident.val); err != nil {
				return rserr.Permanent(err, "batch edge create rejected")
			}
		}

		if key.external {
			if err := c.createExternalEdges(ctx, repoID, key.relType, key.fromLabel, key.toLabel, group); err != nil {
				return err
			}
		} else {
			if err := c.createInternalEdges(ctx, repoID, key.relType, key.fromLabel, key.toLabel, group); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) createInternalEdges(ctx context.Context, repoID, relType, fromLabel, toLabel string, rels []Relationship) error {
	fromKey := UniqueKeyForLabel(fromLabel)
	toKey := UniqueKeyForLabel(toLabel)

	query := fmt.Sprintf(`
		UNWIND $edges AS edge
		MATCH (from:%s {repoId: $repoId, %s: edge.from})
		MATCH (to:%s {repoId: $repoId, %s: edge.to})
		MERGE (from)-[r:%s]->(to)
		SET r += edge.props
		RETURN count(r) as created
	`, fromLabel, fromKey, toLabel, toKey, relType)

	return c.runEdgeBatches(ctx, repoID, relType, query, rels)
}

func (c *Client) createExternalEdges(ctx context.Context, repoID, relType, fromLabel, extLabel string, rels []Relationship) error {
	fromKey := UniqueKeyForLabel(fromLabel)

	query := fmt.Sprintf(`
		UNWIND $edges AS edge
		MATCH (from:%s {repoId: $repoId, %s: edge.from})
		MERGE (to:%s {repoId: $repoId, qualifiedName: edge.to})
		ON CREATE SET to.external = true
		MERGE (from)-[r:%s]->(to)
		SET r += edge.props
		RETURN count(r) as created
	`, fromLabel, fromKey, extLabel, relType)

	return c.runEdgeBatches(ctx, repoID, relType, query, rels)
}

func (c *Client) runEdgeBatches(ctx context.Context, repoID, relType, query string, rels []Relationship) error {
	for start := 0; start < len(rels); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rels) {
			end = len(rels)
		}
		batch := rels[start:end]

		edges := make([]map[string]any, len(batch))
		for i, rel := range batch {
			props := rel.Properties
			if props == nil {
				props = map[string]any{}
			}
			edges[i] = map[string]any{
				"from":  rel.FromQN,
				"to":    rel.ToQN,
				"props": props,
			}
		}

		rows, err := c.ExecuteQuery(ctx, query, map[string]any{
			"edges":  edges,
			"repoId": repoID,
		})
		if err != nil {
			return fmt.Errorf("batch edge creation failed for %s (batch %d-%d): %w", relType, start, end, err)
		}

		if len(rows) > 0 {
			if created, ok := rows[0]["created"].(int64); ok && created < int64(len(batch)) {
				c.logger.Warn("edges skipped due to unresolved endpoints",
					"rel_type", relType,
					"requested", len(batch),
					"created", created)
			}
		}
	}
	return nil
}
