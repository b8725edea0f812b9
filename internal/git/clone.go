// Package git shells out to the git binary for the clone and
// checkout plumbing the analysis pipeline needs. Workers analyze a
// repository at one exact commit, so clones are shallow single-commit
// fetches rather than full history.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const cloneTimeout = 5 * time.Minute

// Cloner materializes repositories under a scratch directory.
type Cloner struct {
	baseDir string
}

func NewCloner(baseDir string) *Cloner {
	return &Cloner{baseDir: baseDir}
}

// CloneAtCommit fetches exactly one commit into a fresh working tree
// and returns its path with a cleanup function. The caller must run
// cleanup even on error paths, stale clones are disk leaks on shared
// workers.
func (c *Cloner) CloneAtCommit(ctx context.Context, cloneURL, commitSHA string) (string, func(), error) {
	if commitSHA == "" {
		return "", func() {}, fmt.Errorf("commit sha is required")
	}
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("create clone dir: %w", err)
	}
	dir, err := os.MkdirTemp(c.baseDir, "clone-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create clone workspace: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	steps := [][]string{
		{"init", "--quiet", dir},
		{"-C", dir, "remote", "add", "origin", cloneURL},
		{"-C", dir, "fetch", "--quiet", "--depth", "1", "origin", commitSHA},
		{"-C", dir, "checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if err := runGit(ctx, args...); err != nil {
			cleanup()
			return "", func() {}, err
		}
	}
	return dir, cleanup, nil
}

// HeadCommit returns the commit a working tree is checked out at.
func HeadCommit(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("read HEAD of %s: %w", repoPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("git %s: %s", strings.Join(args, " "), sanitize(msg))
	}
	return nil
}

// sanitize strips credentials embedded in clone URLs out of error
// text before it reaches logs or run records.
func sanitize(msg string) string {
	if i := strings.Index(msg, "://"); i >= 0 {
		rest := msg[i+3:]
		if at := strings.IndexByte(rest, '@'); at >= 0 && at < strings.IndexAny(rest+"/", "/") {
			return msg[:i+3] + "***" + rest[at:]
		}
	}
	return msg
}

// ParseRepoURL extracts "owner" and "name" from the HTTPS and SSH
// remote formats GitHub hands out.
func ParseRepoURL(remoteURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(remoteURL, ".git")

	if i := strings.Index(trimmed, "://"); i >= 0 {
		parts := strings.Split(trimmed[i+3:], "/")
		if len(parts) >= 3 && parts[1] != "" && parts[2] != "" {
			return parts[1], parts[2], nil
		}
	}
	if i := strings.IndexByte(trimmed, ':'); i >= 0 && strings.Contains(trimmed[:i], "@") {
		parts := strings.Split(trimmed[i+1:], "/")
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("unrecognized git URL format: %s", remoteURL)
}

// SlugFromURL returns "owner/name" for a remote URL.
func SlugFromURL(remoteURL string) (string, error) {
	owner, name, err := ParseRepoURL(remoteURL)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(owner + "/" + name), nil
}
