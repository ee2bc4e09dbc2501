// Package logging builds the process logger: slog to stdout and a rotated
// file, with every record also published on a Hub.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is text or json.
	Format string
	// File is the log file; empty logs to stdout only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// RotateOnStart starts every process with a fresh log file.
	RotateOnStart bool
	// Buffer is how many recent events the Hub keeps.
	Buffer int
}

// Logger is the configured slog.Logger together with its Hub.
type Logger struct {
	*slog.Logger
	Hub  *Hub
	file *lumberjack.Logger
}

// New builds the logger. stdout may be nil to log to the file only.
func New(cfg Config, stdout io.Writer) (*Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil && cfg.Level != "" {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var (
		writers []io.Writer
		file    *lumberjack.Logger
	)
	if stdout != nil {
		writers = append(writers, stdout)
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		if cfg.RotateOnStart {
			if err := file.Rotate(); err != nil {
				return nil, fmt.Errorf("rotate log: %w", err)
			}
		}
		writers = append(writers, file)
	}

	opts := &slog.HandlerOptions{Level: level}
	out := io.MultiWriter(writers...)
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	hub := NewHub(cfg.Buffer)
	return &Logger{
		Logger: slog.New(hub.Handler(handler)),
		Hub:    hub,
		file:   file,
	}, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
