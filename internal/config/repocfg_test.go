package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRepoConfigMissingFile(t *testing.T) {
	rc, err := LoadRepoConfig(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, rc.Globs)
	assert.False(t, rc.Disabled("complexity"))
}

func TestLoadRepoConfig(t *testing.T) {
	dir := t.TempDir()
	content := `globs:
  - "src/**/*.py"
max_file_size_mb: 5
disabled_detectors:
  - dead_symbol
  - missing_tests
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RepoConfigName), []byte(content), 0o644))

	rc, err := LoadRepoConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/**/*.py"}, rc.Globs)
	assert.True(t, rc.Disabled("dead_symbol"))
	assert.False(t, rc.Disabled("complexity"))

	merged := rc.Apply(ScanConfig{Globs: []string{"**/*.py"}, MaxFileSizeMB: 10})
	assert.Equal(t, []string{"src/**/*.py"}, merged.Globs)
	assert.Equal(t, 5, merged.MaxFileSizeMB)
}

func TestLoadRepoConfigRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RepoConfigName), []byte("globs: {bad"), 0o644))
	_, err := LoadRepoConfig(dir)
	assert.Error(t, err)
}

func TestApplyKeepsTenantDefaults(t *testing.T) {
	rc := &RepoConfig{}
	merged := rc.Apply(ScanConfig{Globs: []string{"**/*.py"}, MaxFileSizeMB: 10})
	assert.Equal(t, []string{"**/*.py"}, merged.Globs)
	assert.Equal(t, 10, merged.MaxFileSizeMB)
}
