package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level      slog.Level
	OutputFile string // empty = stdout only
	JSONFormat bool   // JSON in production, text for local debugging
	AddSource  bool
}

var (
	initOnce sync.Once
	logFile  *os.File
)

// Setup installs the process-wide slog default handler.
// Workers call this once at startup before any component loggers are created.
func Setup(cfg Config) error {
	var setupErr error
	initOnce.Do(func() {
		writers := []io.Writer{os.Stdout}

		if cfg.OutputFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
				setupErr = fmt.Errorf("failed to create log directory: %w", err)
				return
			}
			f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				setupErr = fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
				return
			}
			logFile = f
			writers = append(writers, f)
		}

		opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
		var handler slog.Handler
		if cfg.JSONFormat {
			handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
		} else {
			handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
		}
		slog.SetDefault(slog.New(handler))
	})
	return setupErr
}

// Close closes the log file if one was opened by Setup.
func Close() error {
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// Component returns a logger scoped to a named component.
// Every package obtains its logger through this helper so log lines
// carry a uniform "component" attribute.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// ParseLevel maps a LOG_LEVEL string to a slog.Level. Unknown values
// default to info rather than failing startup.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromEnv builds a Config from LOG_LEVEL and ENV.
// Production (ENV=production) gets JSON output; everything else text.
func FromEnv(level, env string) Config {
	prod := strings.EqualFold(env, "production")
	return Config{
		Level:      ParseLevel(level),
		JSONFormat: prod,
		AddSource:  !prod,
	}
}
