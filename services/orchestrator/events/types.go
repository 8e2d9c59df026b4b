// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events is the relay's status event stream.
//
// The attempt loop writes phase and attempt events into an Emitter;
// persistence, logging, and any external progress callback consume them
// as independent subscribers. This keeps status reporting decoupled from
// the loop's control flow.
package events

import "time"

// Type identifies an event kind.
type Type string

const (
	// TypeSessionCreated fires once when a session record is created.
	TypeSessionCreated Type = "session_created"

	// TypePhaseChanged fires at every lifecycle phase boundary.
	TypePhaseChanged Type = "phase_changed"

	// TypeAttemptStarted fires when a generation attempt begins.
	TypeAttemptStarted Type = "attempt_started"

	// TypeAttemptCompleted fires when a generation attempt returns.
	TypeAttemptCompleted Type = "attempt_completed"

	// TypeFeedbackInjected fires when retry or error-recovery feedback is
	// appended to the conversation buffer.
	TypeFeedbackInjected Type = "feedback_injected"

	// TypeEngineStatus carries a human-readable progress string from the
	// generation engine.
	TypeEngineStatus Type = "engine_status"

	// TypeStopRequested fires when an external stop command lands.
	TypeStopRequested Type = "stop_requested"

	// TypeSessionFinalized fires exactly once at terminal cleanup.
	TypeSessionFinalized Type = "session_finalized"
)

// Event is one entry in the stream.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event kind.
	Type Type `json:"type"`

	// SessionID is the session the event belongs to.
	SessionID string `json:"session_id"`

	// ContextID is the session's conversational context.
	ContextID string `json:"context_id"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload for the event kind.
	Data any `json:"data,omitempty"`
}

// PhaseChangedData is the payload for TypePhaseChanged.
type PhaseChangedData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt"`
}

// AttemptStartedData is the payload for TypeAttemptStarted.
type AttemptStartedData struct {
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`
}

// AttemptCompletedData is the payload for TypeAttemptCompleted.
type AttemptCompletedData struct {
	Attempt         int      `json:"attempt"`
	ToolsUsed       []string `json:"tools_used,omitempty"`
	Actions         []string `json:"actions,omitempty"`
	EndedExplicitly bool     `json:"ended_explicitly"`
	Error           string   `json:"error,omitempty"`
}

// FeedbackInjectedData is the payload for TypeFeedbackInjected.
type FeedbackInjectedData struct {
	Attempt    int     `json:"attempt"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Recovery   bool    `json:"recovery"`

	// Message is the full feedback text appended to the conversation
	// buffer, carried so persistence subscribers can mirror it.
	Message string `json:"message"`
}

// EngineStatusData is the payload for TypeEngineStatus.
type EngineStatusData struct {
	Update string `json:"update"`
}

// SessionFinalizedData is the payload for TypeSessionFinalized.
type SessionFinalizedData struct {
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
