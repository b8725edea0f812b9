package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoConfigName is the optional per-repository override file read
// from the repository root.
const RepoConfigName = ".reposage.yml"

// RepoConfig lets a repository tune its own analysis without touching
// tenant settings: narrower scan globs and detectors to silence.
type RepoConfig struct {
	Globs             []string `yaml:"globs,omitempty"`
	MaxFileSizeMB     int      `yaml:"max_file_size_mb,omitempty"`
	DisabledDetectors []string `yaml:"disabled_detectors,omitempty"`
}

// LoadRepoConfig reads the override file from a checked-out tree. A
// missing file returns an empty config; a malformed one is an error so
// a typo cannot silently widen the scan.
func LoadRepoConfig(dir string) (*RepoConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, RepoConfigName))
	if os.IsNotExist(err) {
		return &RepoConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", RepoConfigName, err)
	}

	var rc RepoConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", RepoConfigName, err)
	}
	if rc.MaxFileSizeMB < 0 {
		return nil, fmt.Errorf("%s: max_file_size_mb cannot be negative", RepoConfigName)
	}
	return &rc, nil
}

// Apply overlays the repository overrides onto the tenant scan
// settings.
func (rc *RepoConfig) Apply(scan ScanConfig) ScanConfig {
	if len(rc.Globs) > 0 {
		scan.Globs = rc.Globs
	}
	if rc.MaxFileSizeMB > 0 {
		scan.MaxFileSizeMB = rc.MaxFileSizeMB
	}
	return scan
}

// Disabled reports whether a detector is silenced by the repository.
func (rc *RepoConfig) Disabled(detector string) bool {
	for _, name := range rc.DisabledDetectors {
		if name == detector {
			return true
		}
	}
	return false
}
