// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides factory functions and configuration for the
// relay's embedded BadgerDB store.
//
// BadgerDB holds active and completed session records. Active records are
// written with a TTL so that sessions orphaned by a crashed process expire
// instead of lingering as stuck "active" entries.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes, value log
// GC every five minutes at a 50% discard threshold.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: in-memory
// mode, asynchronous writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens a BadgerDB instance with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*badger.DB - The opened database. Caller must call Close() when done.
//	error - Non-nil if path is invalid or database cannot be opened.
//
// Thread Safety: The returned *badger.DB is safe for concurrent use.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return db, nil
}

// OpenInMemory is a convenience function for opening an in-memory database.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}

// GCRunner runs periodic value log garbage collection on a BadgerDB
// instance.
//
// Thread Safety: Safe for concurrent use after creation.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a garbage collection runner.
//
// Inputs:
//
//	db - The BadgerDB instance. Must not be nil.
//	interval - How often to run GC. Must be positive.
//	ratio - Minimum garbage ratio to trigger GC (0.0-1.0).
//	logger - Optional logger for GC events.
//
// Outputs:
//
//	*GCRunner - The runner. Not started until Start() is called.
//	error - Non-nil if inputs are invalid.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins periodic garbage collection.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts garbage collection and waits for the runner to finish.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	// RunValueLogGC returns nil if GC was triggered, ErrNoRewrite if not needed.
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}
