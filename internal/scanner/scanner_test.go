package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserr "github.com/reposage/reposage/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanAcceptsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", "def main():\n    pass\n")
	writeFile(t, root, "app/util.py", "x = 1\n")
	writeFile(t, root, "README.md", "# readme\n")

	result, err := Scan(root, Options{})
	require.NoError(t, err)

	paths := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"app/main.py", "app/util.py"}, paths)
	assert.Empty(t, result.Skipped)
}

func TestScanStoresRelativePathsAndHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/mod.py", "a = 1\nb = 2\n")

	result, err := Scan(root, Options{})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)

	f := result.Files[0]
	assert.Equal(t, "pkg/mod.py", f.Path)
	assert.False(t, filepath.IsAbs(f.Path))
	assert.Equal(t, HashBytes([]byte("a = 1\nb = 2\n")), f.ContentHash)
	assert.Equal(t, 2, f.LineCount)
	assert.Equal(t, "python", f.Language)
}

func TestScanExcludesWellKnownDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/ok.py", "pass\n")
	writeFile(t, root, ".git/hook.py", "pass\n")
	writeFile(t, root, "node_modules/dep.py", "pass\n")
	writeFile(t, root, "__pycache__/c.py", "pass\n")
	writeFile(t, root, "venv/lib.py", "pass\n")

	result, err := Scan(root, Options{})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "src/ok.py", result.Files[0].Path)
}

func TestScanSizeBoundary(t *testing.T) {
	root := t.TempDir()

	// Exactly at the 1MB limit: accepted. One byte over: rejected.
	atLimit := strings.Repeat("a", 1024*1024)
	writeFile(t, root, "at_limit.py", atLimit)
	writeFile(t, root, "over_limit.py", atLimit+"b")

	result, err := Scan(root, Options{MaxFileSizeMB: 1})
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "at_limit.py", result.Files[0].Path)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "over_limit.py", result.Skipped[0].Path)
	assert.Equal(t, ReasonTooLarge, result.Skipped[0].Reason)
}

func TestScanRejectsSymlinkedFiles(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := writeFile(t, outside, "target.py", "pass\n")

	link := filepath.Join(root, "link.py")
	require.NoError(t, os.Symlink(target, link))

	result, err := Scan(root, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, ReasonSymlink, result.Skipped[0].Reason)
}

func TestScanRejectsSymlinkRoot(t *testing.T) {
	real := t.TempDir()
	parent := t.TempDir()
	link := filepath.Join(parent, "repo")
	require.NoError(t, os.Symlink(real, link))

	_, err := Scan(link, Options{})
	require.Error(t, err)
	assert.True(t, rserr.IsSecurity(err))
}

func TestScanBoundaryEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := writeFile(t, outside, "escape.py", "pass\n")

	link := filepath.Join(root, "escape.py")
	require.NoError(t, os.Symlink(target, link))

	// With followSymlinks set, the symlink policy passes but the
	// boundary policy must still reject the escape.
	result, err := Scan(root, Options{FollowSymlinks: true})
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, ReasonTraversal, result.Skipped[0].Reason)
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		rel   string
		globs []string
		want  bool
	}{
		{"a/b/c.py", []string{"**/*.py"}, true},
		{"c.py", []string{"**/*.py"}, true},
		{"a/b/c.js", []string{"**/*.py"}, false},
		{"a/b/c.js", []string{"**/*.py", "**/*.js"}, true},
		{"setup.py", []string{"setup.py"}, true},
		{"deep/setup.py", []string{"setup.py"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesAny(tt.rel, tt.globs), "rel=%s globs=%v", tt.rel, tt.globs)
	}
}

func TestIsTestPath(t *testing.T) {
	assert.True(t, IsTestPath("tests/test_app.py"))
	assert.True(t, IsTestPath("pkg/test_util.py"))
	assert.True(t, IsTestPath("app/util_test.py"))
	assert.True(t, IsTestPath("web/app.spec.ts"))
	assert.False(t, IsTestPath("app/main.py"))
	assert.False(t, IsTestPath("contested/thing.py"))
}

func TestHashCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenHashCache(filepath.Join(dir, "hashes.db"))
	require.NoError(t, err)
	defer cache.Close()

	mod := time.Now()
	cache.Store("a.py", 10, mod, "deadbeef", 3)

	hash, ok := cache.Lookup("a.py", 10, mod)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", hash)
	assert.Equal(t, 3, cache.LineCount("a.py"))

	// Stale size or mtime misses.
	_, ok = cache.Lookup("a.py", 11, mod)
	assert.False(t, ok)
	_, ok = cache.Lookup("a.py", 10, mod.Add(time.Second))
	assert.False(t, ok)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(nil))
	assert.Equal(t, 1, countLines([]byte("x")))
	assert.Equal(t, 1, countLines([]byte("x\n")))
	assert.Equal(t, 2, countLines([]byte("x\ny")))
	assert.Equal(t, 2, countLines([]byte("x\ny\n")))
}
