// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for relay components.
//
// The package is built on Go's standard library slog, with a thin
// layer for level configuration and optional file output:
//
//   - Default: stderr output for CLI compatibility
//   - Optional: file logging with automatic directory creation
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("session started", "session_id", sessionID)
//	logger.Error("request failed", "error", err)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.relay/logs", // Supports ~ expansion
//	    Service: "relayd",
//	})
//	defer logger.Close() // Flushes and closes the file
//
// File output is JSON, named `{service}_{date}.log`.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure tokens and secrets are not logged:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "token", botToken)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "token_present", botToken != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for potentially problematic situations.
	LevelWarn

	// LevelError is for operation failures the system survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive name to a Level. Unknown names
// return LevelInfo.
func ParseLevel(name string) Level {
	switch name {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// LogDir enables file output when non-empty. The directory is
	// created if missing; "~" expands to the home directory.
	LogDir string

	// Service names the component; used in the log file name and
	// attached to every record as "service".
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet suppresses stderr output entirely. File output, when
	// configured, is unaffected.
	Quiet bool

	// Writer overrides the stderr destination. Intended for tests.
	Writer io.Writer
}

// Logger is a structured logger with optional file output.
//
// Thread Safety: Logger is safe for concurrent use.
type Logger struct {
	slogger *slog.Logger
	file    *os.File
}

// New creates a logger from the config.
//
// Description:
//
//	Builds a slog-backed logger writing to stderr (text or JSON per
//	Config.JSON) and, when LogDir is set, to a JSON log file as well.
//	File creation failures degrade to stderr-only with a warning
//	rather than failing construction.
//
// Outputs:
//
//	*Logger - Never nil.
func New(config Config) *Logger {
	level := config.Level.toSlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if !config.Quiet {
		w := config.Writer
		if w == nil {
			w = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, opts))
		}
	}

	var file *os.File
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create log dir %s: %v\n", dir, err)
		} else {
			service := config.Service
			if service == "" {
				service = "relay"
			}
			name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
			} else {
				file = f
				handlers = append(handlers, slog.NewJSONHandler(f, opts))
			}
		}
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = &multiHandler{handlers: handlers}
	}

	slogger := slog.New(h)
	if config.Service != "" {
		slogger = slogger.With(slog.String("service", config.Service))
	}
	return &Logger{slogger: slogger, file: file}
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Debug logs at debug level with key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }

// Info logs at info level with key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.slogger.Info(msg, args...) }

// Warn logs at warn level with key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.slogger.Warn(msg, args...) }

// Error logs at error level with key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a logger with the given attributes attached to every
// record. The file handle stays owned by the parent; call Close on
// the root logger only.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...), file: nil}
}

// Slog exposes the underlying *slog.Logger for packages that accept
// one directly.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// multiHandler fans records out to several slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[1:])
}
