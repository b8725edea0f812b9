package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/parser"
	"github.com/reposage/reposage/internal/scanner"
)

// GraphStore is the slice of the graph client the pipeline needs.
// Kept as an interface so pipeline tests run against an in-memory
// fake instead of a live database.
type GraphStore interface {
	CreateIndexes(ctx context.Context) error
	FileHashes(ctx context.Context, repoID string) (map[string]string, error)
	DeleteFileEntities(ctx context.Context, repoID, path string) (int64, error)
	DeleteRepository(ctx context.Context, repoID string) (int64, error)
	BatchCreateNodes(ctx context.Context, entities []graph.Entity) error
	BatchCreateRelationships(ctx context.Context, repoID string, rels []graph.Relationship) error
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// ProgressFunc receives coarse progress during ingestion. done/total
// count files in the current stage.
type ProgressFunc func(stage string, done, total int)

// Options configures one ingestion run.
type Options struct {
	RepoID   string
	RepoSlug string
	Scan     scanner.Options

	// FullRebuild purges the repo from the graph before loading, so
	// every file is treated as new.
	FullRebuild bool

	Progress ProgressFunc
}

// Summary reports what one ingestion run did.
type Summary struct {
	FilesNew       int                   `json:"filesNew"`
	FilesChanged   int                   `json:"filesChanged"`
	FilesUnchanged int                   `json:"filesUnchanged"`
	FilesDeleted   int                   `json:"filesDeleted"`
	FilesFailed    int                   `json:"filesFailed"`
	Skipped        []scanner.SkippedFile `json:"skipped,omitempty"`
	NodesWritten   int                   `json:"nodesWritten"`
	EdgesWritten   int                   `json:"edgesWritten"`
	DurationSec    float64               `json:"durationSec"`
	FilesPerSec    float64               `json:"filesPerSec"`
}

// Pipeline drives scan, diff, parse and graph load for one repository.
type Pipeline struct {
	store  GraphStore
	bridge parser.Bridge
	logger *slog.Logger
}

// NewPipeline wires a pipeline against a graph store and a parser
// bridge.
func NewPipeline(store GraphStore, bridge parser.Bridge) *Pipeline {
	return &Pipeline{
		store:  store,
		bridge: bridge,
		logger: slog.Default().With("component", "ingest"),
	}
}

// Ingest runs one incremental ingestion of the repository rooted at
// root. Unchanged files are not reparsed; files whose hash changed are
// rebuilt along with their transitive importers, and files gone from
// disk have their subgraphs deleted. Parse failures are per-file and
// never abort the run.
func (p *Pipeline) Ingest(ctx context.Context, root string, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.RepoID == "" {
		return nil, fmt.Errorf("repo id is required")
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string, int, int) {}
	}

	if err := p.store.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	if opts.FullRebuild {
		if _, err := p.store.DeleteRepository(ctx, opts.RepoID); err != nil {
			return nil, fmt.Errorf("full rebuild purge failed: %w", err)
		}
	}

	progress("scan", 0, 0)
	scanned, err := scanner.Scan(root, opts.Scan)
	if err != nil {
		return nil, err
	}

	existing, err := p.store.FileHashes(ctx, opts.RepoID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Skipped: scanned.Skipped}
	byPath := make(map[string]scanner.ScannedFile, len(scanned.Files))
	localPaths := make(map[string]bool, len(scanned.Files))
	for _, f := range scanned.Files {
		byPath[f.Path] = f
		localPaths[f.Path] = true
	}

	var toParse []scanner.ScannedFile
	changedPaths := make(map[string]bool)
	for _, f := range scanned.Files {
		prev, known := existing[f.Path]
		switch {
		case !known:
			summary.FilesNew++
			toParse = append(toParse, f)
		case prev != f.ContentHash:
			summary.FilesChanged++
			changedPaths[f.Path] = true
			toParse = append(toParse, f)
		default:
			summary.FilesUnchanged++
		}
	}

	var deleted []string
	for path := range existing {
		if !localPaths[path] {
			deleted = append(deleted, path)
		}
	}

	// Importers of changed or deleted files get reparsed too: their
	// call and import resolution may now point somewhere else.
	reparse := p.importersOf(ctx, opts.RepoID, append(mapKeys(changedPaths), deleted...))
	for _, path := range reparse {
		if changedPaths[path] {
			continue
		}
		if f, ok := byPath[path]; ok {
			changedPaths[path] = true
			summary.FilesChanged++
			summary.FilesUnchanged--
			toParse = append(toParse, f)
		}
	}

	cv := &converter{repoID: opts.RepoID, repoSlug: opts.RepoSlug, localPaths: localPaths}

	var nodes []graph.Entity
	var edges []graph.Relationship
	for i, f := range toParse {
		progress("parse", i+1, len(toParse))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, parseErr := p.parseFile(f)
		if parseErr != nil {
			p.logger.Warn("file failed to parse", "path", f.Path, "error", parseErr)
			summary.FilesFailed++
			summary.Skipped = append(summary.Skipped, scanner.SkippedFile{
				Path: f.Path, Reason: scanner.ReasonParseError,
			})
			continue
		}

		// Changed files drop their old subgraph before the new one
		// lands. Parse failures above keep the stale subgraph instead
		// of leaving a hole.
		if changedPaths[f.Path] {
			if _, err := p.store.DeleteFileEntities(ctx, opts.RepoID, f.Path); err != nil {
				return nil, err
			}
		}

		n, e := cv.convert(f, res)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}

	progress("delete", 0, len(deleted))
	for i, path := range deleted {
		if _, err := p.store.DeleteFileEntities(ctx, opts.RepoID, path); err != nil {
			return nil, err
		}
		summary.FilesDeleted++
		progress("delete", i+1, len(deleted))
	}

	// Nodes land before edges so strict endpoint matching can only
	// skip edges whose endpoints genuinely do not exist.
	progress("load", 0, len(nodes)+len(edges))
	if err := p.store.BatchCreateNodes(ctx, nodes); err != nil {
		return nil, err
	}
	if err := p.store.BatchCreateRelationships(ctx, opts.RepoID, edges); err != nil {
		return nil, err
	}
	progress("load", len(nodes)+len(edges), len(nodes)+len(edges))

	summary.NodesWritten = len(nodes)
	summary.EdgesWritten = len(edges)
	summary.DurationSec = time.Since(start).Seconds()
	if summary.DurationSec > 0 {
		summary.FilesPerSec = float64(len(toParse)) / summary.DurationSec
	}

	p.logger.Info("ingestion complete",
		"repo_id", opts.RepoID,
		"new", summary.FilesNew,
		"changed", summary.FilesChanged,
		"unchanged", summary.FilesUnchanged,
		"deleted", summary.FilesDeleted,
		"failed", summary.FilesFailed,
		"nodes", summary.NodesWritten,
		"edges", summary.EdgesWritten,
		"duration_sec", fmt.Sprintf("%.2f", summary.DurationSec))
	return summary, nil
}

func (p *Pipeline) parseFile(f scanner.ScannedFile) (*parser.Result, error) {
	if !p.bridge.Supports(f.Language) {
		return nil, fmt.Errorf("no parser for language %q", f.Language)
	}
	src, err := os.ReadFile(filepath.Clean(f.AbsPath))
	if err != nil {
		return nil, err
	}
	return p.bridge.Parse(f.Path, f.Language, src)
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
