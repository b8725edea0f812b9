package scanner

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rserr "github.com/reposage/reposage/internal/errors"
)

// Skip reasons reported back to the caller. No file is silently
// dropped once it matched the glob set.
const (
	ReasonSymlink    = "symlink"
	ReasonTooLarge   = "too_large"
	ReasonTraversal  = "path_traversal"
	ReasonReadError  = "read_error"
	ReasonParseError = "parse_error" // attached later by the pipeline
)

// Directories never worth scanning.
var excludedDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"build":        true,
	"dist":         true,
}

// Options controls a scan.
type Options struct {
	Globs          []string // default: **/*.py
	MaxFileSizeMB  int      // default: 10
	FollowSymlinks bool
	HashCache      *HashCache // optional; skips rehashing unchanged files
}

// ScannedFile is one accepted candidate. Path is always repo-relative;
// absolute paths are never persisted.
type ScannedFile struct {
	Path        string
	AbsPath     string
	SizeBytes   int64
	ModTime     time.Time
	ContentHash string
	Language    string
	LineCount   int
	IsTest      bool
}

// SkippedFile records a rejection with its reason for reporting.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the outcome of a scan.
type Result struct {
	Files   []ScannedFile
	Skipped []SkippedFile
}

// Scan walks the repository root and returns candidate files after
// applying, in order: glob match, directory exclusion, symlink policy,
// size policy and boundary policy. The root itself being a symlink is
// a security violation that aborts the whole analysis.
func Scan(root string, opts Options) (*Result, error) {
	logger := slog.Default().With("component", "scanner")

	if len(opts.Globs) == 0 {
		opts.Globs = []string{"**/*.py"}
	}
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = 10
	}
	maxBytes := int64(opts.MaxFileSizeMB) * 1024 * 1024

	info, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat repository root: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, rserr.Securityf("repository root %s is a symbolic link", root)
	}
	if !info.IsDir() {
		return nil, rserr.Validationf("repository root %s is not a directory", root)
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}

	result := &Result{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(rel, opts.Globs) {
			return nil
		}

		// Symlink policy.
		fi, err := d.Info()
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonReadError})
			return nil
		}
		if fi.Mode()&os.ModeSymlink != 0 && !opts.FollowSymlinks {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonSymlink})
			return nil
		}

		// Size policy: at the limit is accepted, one byte over is not.
		stat, err := os.Stat(path)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonReadError})
			return nil
		}
		if stat.Size() > maxBytes {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonTooLarge})
			return nil
		}

		// Boundary policy: the resolved path must stay inside the root.
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonReadError})
			return nil
		}
		if !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) {
			logger.Warn("audit",
				"action", "path_traversal_rejected",
				"path", rel,
				"resolved", resolved)
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonTraversal})
			return nil
		}

		sf, err := buildScannedFile(rel, path, stat, opts.HashCache)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{rel, ReasonReadError})
			return nil
		}
		result.Files = append(result.Files, sf)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("repository walk failed: %w", walkErr)
	}

	logger.Debug("scan complete",
		"root", root,
		"accepted", len(result.Files),
		"skipped", len(result.Skipped))
	return result, nil
}

func buildScannedFile(rel, abs string, stat os.FileInfo, cache *HashCache) (ScannedFile, error) {
	sf := ScannedFile{
		Path:      rel,
		AbsPath:   abs,
		SizeBytes: stat.Size(),
		ModTime:   stat.ModTime(),
		Language:  LanguageForPath(rel),
		IsTest:    IsTestPath(rel),
	}

	if cache != nil {
		if hash, ok := cache.Lookup(rel, stat.Size(), stat.ModTime()); ok {
			sf.ContentHash = hash
			sf.LineCount = cache.LineCount(rel)
			if sf.LineCount > 0 {
				return sf, nil
			}
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return sf, err
	}
	sf.ContentHash = HashBytes(data)
	sf.LineCount = countLines(data)

	if cache != nil {
		cache.Store(rel, stat.Size(), stat.ModTime(), sf.ContentHash, sf.LineCount)
	}
	return sf, nil
}

// HashBytes computes the content-hash change-detection key. MD5 is a
// fast 128-bit hash here, not a security primitive.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := 1
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	if data[len(data)-1] == '\n' {
		n--
	}
	return n
}

// matchesAny applies the glob set. Patterns of the form **/<tail>
// match the tail against the basename in any directory; other patterns
// match the whole repo-relative path.
func matchesAny(rel string, globs []string) bool {
	base := filepath.Base(rel)
	for _, g := range globs {
		if tail, ok := strings.CutPrefix(g, "**/"); ok {
			if ok, _ := filepath.Match(tail, base); ok {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// LanguageForPath maps a file extension to its language name.
func LanguageForPath(path string) string {
	switch filepath.Ext(path) {
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	default:
		return "unknown"
	}
}

// IsTestPath reports whether a path looks like a test file.
func IsTestPath(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	if strings.Contains(base, ".spec.") || strings.Contains(base, ".test.") {
		return true
	}
	for _, dir := range []string{"tests/", "test/", "__tests__/"} {
		if strings.HasPrefix(path, dir) || strings.Contains(path, "/"+dir) {
			return true
		}
	}
	return false
}
