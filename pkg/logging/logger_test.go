// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
	}

	for _, tt := range tests {
		if got := tt.level.toSlogLevel(); got != tt.want {
			t.Errorf("toSlogLevel(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Writer: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("output should not contain filtered levels: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("output missing expected records: %s", out)
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, JSON: true, Writer: &buf, Service: "test"})

	logger.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("key = %v, want value", record["key"])
	}
	if record["service"] != "test" {
		t.Errorf("service = %v, want test", record["service"])
	}
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Quiet: true, Writer: &buf})

	logger.Info("should not appear")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote to stderr writer: %s", buf.String())
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "relayd", Quiet: true})

	logger.Info("file record", "n", 1)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "relayd_") {
		t.Errorf("log file %q missing service prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	if !strings.Contains(string(data), "file record") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestWith_AttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, JSON: true, Writer: &buf})

	child := logger.With("request_id", "abc123")
	child.Info("scoped")

	if !strings.Contains(buf.String(), "abc123") {
		t.Errorf("child logger output missing attribute: %s", buf.String())
	}
}

func TestClose_NoFile(t *testing.T) {
	logger := New(Config{Level: LevelInfo, Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() without file error = %v", err)
	}
	// Double close stays nil.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSlog_SharesBackend(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Writer: &buf})

	logger.Slog().Info("via slog")

	if !strings.Contains(buf.String(), "via slog") {
		t.Errorf("Slog() logger did not share output: %s", buf.String())
	}
}
