// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue buffers messages that arrive for a context while an
// execution is already running.
//
// When a new inbound event cancels a running execution for the same
// context, messages that arrived too late to be folded into the cancelled
// run are queued here and drained into the next run's initial buffer, so
// nothing is silently dropped across a cancel/restart boundary.
//
// The queue is process-local, like the flight registry it serves.
//
// Thread Safety:
//
//	Queue is safe for concurrent use.
package queue

import (
	"log/slog"
	"sync"
	"time"
)

// Type classifies a queued message.
type Type string

const (
	// TypeCreated is a brand-new task event for the context.
	TypeCreated Type = "created"

	// TypePrompted is a follow-up prompt for a running session.
	TypePrompted Type = "prompted"

	// TypeStop is a stop request that arrived while no execution could
	// consume it.
	TypeStop Type = "stop"
)

// QueuedMessage is one buffered inbound message.
type QueuedMessage struct {
	// Timestamp is the arrival time. Stamped by Enqueue when zero.
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the message.
	Type Type `json:"type"`

	// Content is the message text.
	Content string `json:"content"`

	// SessionID is the session that was running at arrival, if any.
	SessionID string `json:"session_id,omitempty"`

	// ContextID is the conversational context.
	ContextID string `json:"context_id"`

	// UserID identifies the author, when known.
	UserID string `json:"user_id,omitempty"`

	// Metadata carries free-form origin identifiers.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config configures a Queue. Zero values use defaults.
type Config struct {
	// TTL bounds how long a queued message stays drainable.
	// Default: 30 minutes.
	TTL time.Duration

	// MaxPerContext caps queued messages per context; the oldest entry is
	// dropped when the cap is hit. Default: 64.
	MaxPerContext int

	// Logger receives drop events. If nil, slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.MaxPerContext <= 0 {
		c.MaxPerContext = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Queue holds pending messages per context.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]QueuedMessage
	ttl     time.Duration
	max     int
	logger  *slog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a Queue.
//
// Inputs:
//
//	cfg - Queue configuration. Zero values use defaults.
//
// Outputs:
//
//	*Queue - The queue. Never nil.
func New(cfg Config) *Queue {
	cfg.ApplyDefaults()
	return &Queue{
		pending: make(map[string][]QueuedMessage),
		ttl:     cfg.TTL,
		max:     cfg.MaxPerContext,
		logger:  cfg.Logger.With(slog.String("component", "message_queue")),
		now:     time.Now,
	}
}

// Enqueue appends a message to a context's pending buffer.
//
// Description:
//
//	Stamps the arrival time when the message carries none, prunes expired
//	entries, and enforces the per-context cap by dropping the oldest
//	entry. Arrival order is preserved for DrainAll.
//
// Inputs:
//
//	contextID - The conversational context.
//	msg - The message to buffer.
//
// Thread Safety: Safe for concurrent use.
func (q *Queue) Enqueue(contextID string, msg QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = q.now()
	}
	msg.ContextID = contextID

	live := q.pruneLocked(contextID)
	if len(live) >= q.max {
		q.logger.Warn("queue cap reached, dropping oldest message",
			slog.String("context_id", contextID),
			slog.Int("cap", q.max))
		live = live[1:]
	}
	q.pending[contextID] = append(live, msg)
}

// DrainAll atomically returns all live queued messages for a context in
// arrival order and clears the queue.
//
// Inputs:
//
//	contextID - The conversational context.
//
// Outputs:
//
//	[]QueuedMessage - Live messages in arrival order. Nil when empty.
//
// Thread Safety: Safe for concurrent use.
func (q *Queue) DrainAll(contextID string) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	live := q.pruneLocked(contextID)
	delete(q.pending, contextID)
	if len(live) == 0 {
		return nil
	}
	return live
}

// Len returns the number of live messages queued for a context.
func (q *Queue) Len(contextID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pruneLocked(contextID))
}

// Depth returns the total number of live messages across all contexts.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for contextID := range q.pending {
		total += len(q.pruneLocked(contextID))
	}
	return total
}

// pruneLocked drops expired entries for a context and returns the live
// slice. Caller holds q.mu.
func (q *Queue) pruneLocked(contextID string) []QueuedMessage {
	msgs := q.pending[contextID]
	if len(msgs) == 0 {
		return msgs
	}

	cutoff := q.now().Add(-q.ttl)
	firstLive := len(msgs)
	for i, m := range msgs {
		if m.Timestamp.After(cutoff) {
			firstLive = i
			break
		}
	}
	if firstLive == 0 {
		return msgs
	}
	live := msgs[firstLive:]
	if len(live) == 0 {
		delete(q.pending, contextID)
		return nil
	}
	q.pending[contextID] = live
	return live
}
