package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the supervisor's own log output.
type Config struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
	Color  bool   `mapstructure:"color"`
	// File, when set, receives the log stream in addition to stderr and is
	// rotated with lumberjack.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ParseLevel maps a level name to slog.Level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger writing to w (os.Stderr when nil) and, if configured,
// to a rotated file. The returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := rotating(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays, cfg.Compress)
		w = io.MultiWriter(w, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color && cfg.File == "" {
			h = NewColorTextHandler(w, opts)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// ProcessConfig describes where a supervised child's stdout/stderr go.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. With nothing set the
// child inherits the supervisor's stdio.
type ProcessConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (c ProcessConfig) Enabled() bool {
	return c.Dir != "" || c.StdoutPath != "" || c.StderrPath != ""
}

// Writers returns rotating writers for the child's stdout and stderr. A nil
// writer means that stream was not configured.
func (c ProcessConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout, stderr := c.StdoutPath, c.StderrPath
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create process log dir: %w", err)
		}
		if stdout == "" {
			stdout = filepath.Join(c.Dir, name+".stdout.log")
		}
		if stderr == "" {
			stderr = filepath.Join(c.Dir, name+".stderr.log")
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = rotating(stdout, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays, c.Compress)
	}
	if stderr != "" {
		errW = rotating(stderr, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays, c.Compress)
	}
	return outW, errW, nil
}

func rotating(path string, size, backups, age int, compress bool) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(size, DefaultMaxSizeMB),
		MaxBackups: valOr(backups, DefaultMaxBackups),
		MaxAge:     valOr(age, DefaultMaxAgeDays),
		Compress:   compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
