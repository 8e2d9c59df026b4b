// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

// Acknowledgement texts returned for cooperative terminations. These are
// user-visible: the public entry point always resolves cancellation to a
// text message, never a raw error.
const (
	// StopAckText acknowledges an explicit stop command.
	StopAckText = "Stopped. Let me know if you need anything else."

	// SupersededAckText acknowledges a session replaced by a newer
	// request in the same context.
	SupersededAckText = "Superseded by a newer request in this conversation."
)

// Config configures the orchestrator service. Zero values use defaults.
type Config struct {
	// MaxAttempts bounds generation attempts per session. Default: 2.
	MaxAttempts int

	// ConfidenceThreshold is the evaluator confidence below which an
	// incomplete attempt retries. Default: 0.7.
	ConfidenceThreshold float64

	// EnableMetrics registers Prometheus metrics with the default
	// registerer. Leave false in tests to avoid duplicate registration.
	EnableMetrics bool

	// Logger for service events. If nil, slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %g", c.ConfidenceThreshold)
	}
	return nil
}

// RunRequest is the body for POST /v1/relay/run.
type RunRequest struct {
	// ContextID identifies the conversational context. Required.
	ContextID string `json:"context_id" binding:"required"`

	// Platform is the origin tag. Defaults to "generic".
	Platform string `json:"platform,omitempty"`

	// Messages is the triggering conversation. At least one entry with
	// role "user" is expected.
	Messages []session.Message `json:"messages" binding:"required"`

	// Metadata carries free-form origin identifiers.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RunResponse is the body returned by POST /v1/relay/run.
type RunResponse struct {
	SessionID string `json:"session_id"`
	ContextID string `json:"context_id"`
	Status    string `json:"status"`
	FinalText string `json:"final_text"`
}

// CancelRequest is the body for POST /v1/relay/cancel.
type CancelRequest struct {
	ContextID string `json:"context_id" binding:"required"`
}

// CancelResponse reports whether an active session was found.
type CancelResponse struct {
	ContextID string `json:"context_id"`
	Cancelled bool   `json:"cancelled"`
}

// EnqueueRequest is the body for POST /v1/relay/enqueue.
type EnqueueRequest struct {
	ContextID string            `json:"context_id" binding:"required"`
	Type      string            `json:"type,omitempty"`
	Content   string            `json:"content" binding:"required"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EnqueueResponse reports the queue depth after the append.
type EnqueueResponse struct {
	ContextID string `json:"context_id"`
	Queued    int    `json:"queued"`
}

// SessionListResponse is the body for GET /v1/relay/sessions.
type SessionListResponse struct {
	Active    []*session.Record          `json:"active"`
	Completed []*session.CompletedRecord `json:"completed"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
