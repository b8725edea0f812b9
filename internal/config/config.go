package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for workers and CLIs.
type Config struct {
	Env        string `mapstructure:"env"`
	LogLevel   string `mapstructure:"log_level"`
	AppBaseURL string `mapstructure:"app_base_url"`

	Graph  GraphConfig  `mapstructure:"graph"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Worker WorkerConfig `mapstructure:"worker"`
	Store  StoreConfig  `mapstructure:"store"`
	GitHub GitHubConfig `mapstructure:"github"`
	Scan   ScanConfig   `mapstructure:"scan"`
}

// GraphConfig configures the property-graph backend endpoint.
type GraphConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSL      bool   `mapstructure:"ssl"`
}

// URI renders the bolt connection URI for the graph backend.
func (g GraphConfig) URI() string {
	scheme := "bolt"
	if g.SSL {
		scheme = "bolt+s"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, g.Host, g.Port)
}

// QueueConfig configures the Redis-compatible job broker.
type QueueConfig struct {
	URL string `mapstructure:"url"`
}

// WorkerConfig configures the background worker pool.
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	CloneDir      string        `mapstructure:"clone_dir"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit"`
}

// StoreConfig configures the relational store for analysis runs.
type StoreConfig struct {
	Type        string `mapstructure:"type"` // "postgres" or "sqlite"
	PostgresDSN string `mapstructure:"postgres_dsn"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// GitHubConfig configures the platform API used by post-run hooks.
type GitHubConfig struct {
	Token     string `mapstructure:"token"`
	RateLimit int    `mapstructure:"rate_limit"` // requests per second
}

// ScanConfig configures the path scanner.
type ScanConfig struct {
	MaxFileSizeMB  int      `mapstructure:"max_file_size_mb"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks"`
	Globs          []string `mapstructure:"globs"`
}

// Load builds the configuration from environment variables, optionally
// merged over a yaml config file (reposage.yaml in cwd or /etc/reposage).
func Load() (*Config, error) {
	loader := NewEnvLoader()
	if err := loader.Load(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("reposage")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/reposage")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Environment overrides file values; spec'd names take precedence.
	applyEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		Graph: GraphConfig{
			Host: "localhost",
			Port: 7687,
			User: "neo4j",
		},
		Queue: QueueConfig{URL: "redis://localhost:6379/0"},
		Worker: WorkerConfig{
			Concurrency:   2,
			CloneDir:      "/tmp/analyses",
			SoftTimeLimit: 30 * time.Minute,
			HardTimeLimit: 35 * time.Minute,
		},
		Store: StoreConfig{Type: "postgres"},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Scan: ScanConfig{
			MaxFileSizeMB: 10,
			Globs:         []string{"**/*.py"},
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Env = GetString("ENV", cfg.Env)
	cfg.LogLevel = GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.AppBaseURL = GetString("APP_BASE_URL", cfg.AppBaseURL)

	cfg.Graph.Host = GetString("GRAPH_HOST", cfg.Graph.Host)
	cfg.Graph.Port = GetInt("GRAPH_PORT", cfg.Graph.Port)
	cfg.Graph.User = GetString("GRAPH_USER", cfg.Graph.User)
	cfg.Graph.Password = GetString("GRAPH_PASSWORD", cfg.Graph.Password)
	cfg.Graph.SSL = GetBool("GRAPH_SSL", cfg.Graph.SSL)

	cfg.Queue.URL = GetString("QUEUE_URL", cfg.Queue.URL)
	cfg.Worker.Concurrency = GetInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.CloneDir = GetString("CLONE_DIR", cfg.Worker.CloneDir)

	cfg.Store.Type = GetString("STORE_TYPE", cfg.Store.Type)
	cfg.Store.PostgresDSN = GetString("DATABASE_URL", cfg.Store.PostgresDSN)
	cfg.Store.SQLitePath = GetString("SQLITE_PATH", cfg.Store.SQLitePath)

	cfg.GitHub.Token = GetString("GITHUB_TOKEN", cfg.GitHub.Token)
}

// Validate checks configuration consistency before a worker starts.
func (c *Config) Validate() error {
	if c.Graph.Host == "" {
		return fmt.Errorf("graph host is required (GRAPH_HOST)")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.HardTimeLimit <= c.Worker.SoftTimeLimit {
		return fmt.Errorf("hard time limit must exceed soft time limit")
	}
	switch strings.ToLower(c.Store.Type) {
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres store requires DATABASE_URL")
		}
	case "sqlite":
		// empty path falls back to an in-tree default at open time
	default:
		return fmt.Errorf("unknown store type %q (postgres or sqlite)", c.Store.Type)
	}
	return nil
}
