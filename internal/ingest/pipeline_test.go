package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/graph"
	"github.com/reposage/reposage/internal/parser"
)

// fakeStore is an in-memory GraphStore good enough for diffing and
// load-order assertions.
type fakeStore struct {
	nodes map[string]graph.Entity // label|key -> entity
	edges []graph.Relationship
	repos map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes: make(map[string]graph.Entity),
		repos: make(map[string]bool),
	}
}

func (s *fakeStore) CreateIndexes(ctx context.Context) error { return nil }

func (s *fakeStore) FileHashes(ctx context.Context, repoID string) (map[string]string, error) {
	out := make(map[string]string)
	for _, e := range s.nodes {
		if e.Label != graph.LabelFile || e.Properties["repoId"] != repoID {
			continue
		}
		path, _ := e.Properties["filePath"].(string)
		hash, _ := e.Properties["contentHash"].(string)
		out[path] = hash
	}
	return out, nil
}

func (s *fakeStore) DeleteFileEntities(ctx context.Context, repoID, path string) (int64, error) {
	var removed int64
	for key, e := range s.nodes {
		if e.Properties["repoId"] != repoID {
			continue
		}
		if e.Properties["filePath"] == path {
			delete(s.nodes, key)
			removed++
		}
	}
	kept := s.edges[:0]
	for _, rel := range s.edges {
		if rel.FromQN == path || rel.ToQN == path ||
			strings.HasPrefix(rel.FromQN, path+"::") || strings.HasPrefix(rel.ToQN, path+"::") {
			continue
		}
		kept = append(kept, rel)
	}
	s.edges = kept
	return removed, nil
}

func (s *fakeStore) DeleteRepository(ctx context.Context, repoID string) (int64, error) {
	var removed int64
	for key, e := range s.nodes {
		if e.Properties["repoId"] == repoID {
			delete(s.nodes, key)
			removed++
		}
	}
	s.edges = nil
	return removed, nil
}

func (s *fakeStore) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error {
	for _, e := range entities {
		key, _ := e.Properties[e.UniqueKey()].(string)
		s.nodes[e.Label+"|"+key] = e
	}
	return nil
}

func (s *fakeStore) BatchCreateRelationships(ctx context.Context, repoID string, rels []graph.Relationship) error {
	s.edges = append(s.edges, rels...)
	return nil
}

func (s *fakeStore) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if strings.Contains(query, "IMPORTED_BY") {
		paths, _ := params["paths"].([]string)
		seen := make(map[string]bool)
		var rows []map[string]any
		for _, rel := range s.edges {
			if rel.Type != graph.RelImportedBy {
				continue
			}
			for _, p := range paths {
				if rel.FromQN == p && !seen[rel.ToQN] {
					seen[rel.ToQN] = true
					rows = append(rows, map[string]any{"path": rel.ToQN})
				}
			}
		}
		return rows, nil
	}
	return nil, nil
}

func (s *fakeStore) hasNode(label, key string) bool {
	_, ok := s.nodes[label+"|"+key]
	return ok
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestPipeline(store GraphStore) *Pipeline {
	return NewPipeline(store, parser.NewBridge())
}

func TestIngestFreshRepo(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "app/main.py", "def main():\n    run()\n\ndef run():\n    pass\n")
	writeRepoFile(t, root, "app/models.py", "class User:\n    def name(self):\n        return self._n\n")

	store := newFakeStore()
	summary, err := newTestPipeline(store).Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FilesNew)
	assert.Zero(t, summary.FilesChanged)
	assert.Zero(t, summary.FilesFailed)

	assert.True(t, store.hasNode(graph.LabelFile, "app/main.py"))
	assert.True(t, store.hasNode(graph.LabelFunction, "app/main.py::main"))
	assert.True(t, store.hasNode(graph.LabelClass, "app/models.py::User"))
	assert.True(t, store.hasNode(graph.LabelFunction, "app/models.py::User.name"))

	// Every node carries the tenant tag.
	for _, e := range store.nodes {
		assert.Equal(t, "r1", e.Properties["repoId"])
	}
}

func TestIngestIncrementalDiff(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "a.py", "def a():\n    pass\n")
	writeRepoFile(t, root, "b.py", "def b():\n    pass\n")
	writeRepoFile(t, root, "c.py", "def c():\n    pass\n")

	store := newFakeStore()
	pl := newTestPipeline(store)
	_, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	// Change b, delete c, leave a alone.
	writeRepoFile(t, root, "b.py", "def b():\n    return 2\n")
	require.NoError(t, os.Remove(filepath.Join(root, "c.py")))

	summary, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.FilesNew)
	assert.Equal(t, 1, summary.FilesChanged)
	assert.Equal(t, 1, summary.FilesUnchanged)
	assert.Equal(t, 1, summary.FilesDeleted)

	assert.False(t, store.hasNode(graph.LabelFile, "c.py"))
	assert.False(t, store.hasNode(graph.LabelFunction, "c.py::c"))
	assert.True(t, store.hasNode(graph.LabelFunction, "b.py::b"))
}

func TestIngestReparsesImporters(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "base.py", "def shared():\n    pass\n")
	writeRepoFile(t, root, "user.py", "import base\n\ndef use():\n    base.shared()\n")

	store := newFakeStore()
	pl := newTestPipeline(store)
	_, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	writeRepoFile(t, root, "base.py", "def shared():\n    return 1\n")

	summary, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	// base changed on disk; user reparsed because it imports base.
	assert.Equal(t, 2, summary.FilesChanged)
	assert.Equal(t, 0, summary.FilesUnchanged)
}

func TestIngestImportCycleReparsesOnce(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "x.py", "import y\n\ndef fx():\n    pass\n")
	writeRepoFile(t, root, "y.py", "import x\n\ndef fy():\n    pass\n")

	store := newFakeStore()
	pl := newTestPipeline(store)
	_, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	writeRepoFile(t, root, "x.py", "import y\n\ndef fx():\n    return 1\n")

	summary, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesChanged)
	assert.Equal(t, 0, summary.FilesUnchanged)
}

func TestIngestParseFailureIsolation(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "good.py", "def ok():\n    pass\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.py"), []byte{0xff, 0xfe, 0x00}, 0o644))

	store := newFakeStore()
	summary, err := newTestPipeline(store).Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesFailed)
	assert.True(t, store.hasNode(graph.LabelFunction, "good.py::ok"))
	assert.False(t, store.hasNode(graph.LabelFile, "bad.py"))

	var reasons []string
	for _, sk := range summary.Skipped {
		reasons = append(reasons, sk.Reason)
	}
	assert.Contains(t, reasons, "parse_error")
}

func TestIngestFullRebuild(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "a.py", "def a():\n    pass\n")

	store := newFakeStore()
	pl := newTestPipeline(store)
	_, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1"})
	require.NoError(t, err)

	summary, err := pl.Ingest(context.Background(), root, Options{RepoID: "r1", FullRebuild: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesNew)
	assert.Zero(t, summary.FilesUnchanged)
}

func TestResolveModule(t *testing.T) {
	cv := &converter{localPaths: map[string]bool{
		"pkg/mod.py":       true,
		"pkg/__init__.py":  true,
		"web/helper.js":    true,
		"deep/ns/impl.py":  true,
	}}

	assert.Equal(t, "pkg/mod.py", cv.resolveModule("pkg.mod"))
	assert.Equal(t, "pkg/__init__.py", cv.resolveModule("pkg"))
	assert.Equal(t, "deep/ns/impl.py", cv.resolveModule("deep.ns.impl"))
	assert.Equal(t, "web/helper.js", cv.resolveModule("./web/helper.js"))
	assert.Equal(t, "", cv.resolveModule("requests"))
	assert.Equal(t, "", cv.resolveModule(""))
}
