// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the relayd configuration. Values resolve in order:
// defaults, then the YAML config file, then RELAY_* environment
// variables, highest last.
type Config struct {
	Server struct {
		// Port is the HTTP listen port.
		Port int `yaml:"port"`

		// Mode is the Gin mode: debug, release, or test.
		Mode string `yaml:"mode"`
	} `yaml:"server"`

	Storage struct {
		// Path is the BadgerDB directory.
		Path string `yaml:"path"`

		// InMemory disables disk persistence. Testing only.
		InMemory bool `yaml:"in_memory"`
	} `yaml:"storage"`

	Engine struct {
		// Model is the chat model for generation.
		Model string `yaml:"model"`

		// BaseURL overrides the API endpoint for compatible providers.
		BaseURL string `yaml:"base_url"`

		// APIKey authenticates against the provider. Prefer the
		// OPENAI_API_KEY environment variable over the config file.
		APIKey string `yaml:"api_key"`
	} `yaml:"engine"`

	Evaluator struct {
		// Model is the chat model for completion judging. Defaults to
		// the engine model.
		Model string `yaml:"model"`
	} `yaml:"evaluator"`

	Session struct {
		// MaxAttempts bounds generation attempts per session.
		MaxAttempts int `yaml:"max_attempts"`

		// ConfidenceThreshold gates retry on incomplete verdicts.
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`

		// ActiveTTL bounds how long an abandoned active record lives.
		ActiveTTL time.Duration `yaml:"active_ttl"`

		// CompletedRetention caps archived records.
		CompletedRetention int `yaml:"completed_retention"`
	} `yaml:"session"`

	Queue struct {
		// TTL expires buffered messages.
		TTL time.Duration `yaml:"ttl"`

		// MaxPerContext caps the buffer per context.
		MaxPerContext int `yaml:"max_per_context"`
	} `yaml:"queue"`

	Discord struct {
		// Enabled starts the Discord adapter.
		Enabled bool `yaml:"enabled"`

		// BotToken is the Discord bot token. Prefer the
		// RELAY_DISCORD_TOKEN environment variable over the config file.
		BotToken string `yaml:"bot_token"`

		// AllowedChannels restricts the adapter to specific channels.
		AllowedChannels []string `yaml:"allowed_channels"`

		// QueueWhenBusy buffers instead of superseding busy channels.
		QueueWhenBusy bool `yaml:"queue_when_busy"`
	} `yaml:"discord"`

	Logging struct {
		// Level is debug, info, warn, or error.
		Level string `yaml:"level"`

		// Dir enables file logging when set.
		Dir string `yaml:"dir"`

		// JSON switches stderr output to JSON.
		JSON bool `yaml:"json"`
	} `yaml:"logging"`

	Metrics struct {
		// Enabled exposes Prometheus metrics at /metrics.
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 12310
	cfg.Server.Mode = "release"
	cfg.Storage.Path = "~/.relay/data"
	cfg.Engine.Model = "gpt-4o-mini"
	cfg.Session.MaxAttempts = 2
	cfg.Session.ConfidenceThreshold = 0.7
	cfg.Session.ActiveTTL = time.Hour
	cfg.Session.CompletedRetention = 500
	cfg.Queue.TTL = 30 * time.Minute
	cfg.Queue.MaxPerContext = 64
	cfg.Logging.Level = "info"
	cfg.Metrics.Enabled = true
	return cfg
}

// LoadConfig resolves the configuration from defaults, an optional
// YAML file, and RELAY_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	return cfg, nil
}

// expandHome expands a leading ~ so the storage path works when the
// daemon is launched outside a shell.
func expandHome(path string) string {
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

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("RELAY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RELAY_ENGINE_MODEL"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("RELAY_ENGINE_BASE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_DISCORD_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
		cfg.Discord.Enabled = true
	}
}
