// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session defines the durable state for one relay task execution
// and its BadgerDB-backed persistence.
//
// A Record tracks a single session from creation through one or more
// generation attempts. A CompletedRecord is written exactly once at the
// terminal transition and never mutated afterward.
//
// Thread Safety:
//
//	Record values are owned by the execution that created them; the Store
//	is safe for concurrent use.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the origin of a session's triggering event.
type Platform string

const (
	// PlatformChat is a chat mention or thread reply (Discord, Slack, ...).
	PlatformChat Platform = "chat"

	// PlatformIssue is an issue-tracker event (issue opened, comment).
	PlatformIssue Platform = "issue"

	// PlatformCode is a code-host event (PR comment, review request).
	PlatformCode Platform = "code"

	// PlatformGeneric is any other inbound event source.
	PlatformGeneric Platform = "generic"
)

// Valid reports whether the platform tag is one of the known origins.
func (p Platform) Valid() bool {
	switch p {
	case PlatformChat, PlatformIssue, PlatformCode, PlatformGeneric:
		return true
	}
	return false
}

// Status is the lifecycle phase of a session.
//
// Within a single attempt the phase sequence advances monotonically:
//
//	initializing → planning → gathering → acting → completing
//
// A new attempt restarts the sequence at planning. The terminal statuses
// (completed, cancelled, error) admit no further transitions.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusPlanning     Status = "planning"
	StatusGathering    Status = "gathering"
	StatusActing       Status = "acting"
	StatusCompleting   Status = "completing"

	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// phaseRank orders the non-terminal phases for monotonicity checks.
var phaseRank = map[Status]int{
	StatusInitializing: 0,
	StatusPlanning:     1,
	StatusGathering:    2,
	StatusActing:       3,
	StatusCompleting:   4,
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Valid reports whether the status is a known phase or terminal state.
func (s Status) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := phaseRank[s]
	return ok
}

// CanAdvance reports whether a transition from one phase to another is
// allowed.
//
// Description:
//
//	Non-terminal phases may only advance (never regress), with one
//	exception: any phase may restart at planning, which is how a new
//	attempt begins. Any non-terminal phase may move to a terminal status.
//	Terminal statuses admit nothing.
//
// Inputs:
//
//	from - Current status.
//	to - Target status.
//
// Outputs:
//
//	bool - True if the transition is allowed.
func CanAdvance(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	if to == StatusPlanning {
		// New attempt restarts the phase sequence.
		return true
	}
	fromRank, ok := phaseRank[from]
	if !ok {
		return false
	}
	toRank, ok := phaseRank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in a session's conversation buffer.
type Message struct {
	// Role is the message author: "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the message entered the buffer.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Record is the unit of durable state for one task execution.
//
// ToolsUsed and ActionsPerformed accumulate across attempts and never
// shrink within a session's lifetime. Messages grows as retry feedback
// and error-recovery entries are appended between attempts.
type Record struct {
	// SessionID uniquely identifies the session. Immutable.
	SessionID string `json:"session_id"`

	// ContextID identifies the conversational context, e.g.
	// "discord:channel:thread" or "issue:1234". Single-flight key.
	ContextID string `json:"context_id"`

	// Platform is the enumerated origin tag.
	Platform Platform `json:"platform"`

	// Status is the current lifecycle phase.
	Status Status `json:"status"`

	// StartTime is the creation timestamp. Immutable.
	StartTime time.Time `json:"start_time"`

	// ToolsUsed lists tool names invoked so far, in invocation order.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// ActionsPerformed lists externally visible actions so far.
	ActionsPerformed []string `json:"actions_performed,omitempty"`

	// Messages is the evolving conversation buffer.
	Messages []Message `json:"messages,omitempty"`

	// Metadata carries free-form origin identifiers (issue id, channel id,
	// thread id, user id) used for correlation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompletedRecord is a Record plus terminal accounting.
//
// Created exactly once per session at the terminal transition and never
// mutated afterward.
type CompletedRecord struct {
	Record

	// EndTime is when the terminal transition happened.
	EndTime time.Time `json:"end_time"`

	// Duration is EndTime - StartTime.
	Duration time.Duration `json:"duration"`

	// Error holds terminal error detail when Status is "error".
	Error string `json:"error,omitempty"`
}

// Validation errors for records and patches.
var (
	ErrEmptyContextID   = errors.New("context id must not be empty")
	ErrInvalidContextID = errors.New("malformed context id")
	ErrInvalidPlatform  = errors.New("invalid platform tag")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrStatusRegress    = errors.New("status may not regress within an attempt")
)

// NewRecord creates a Record in the initializing phase.
//
// Description:
//
//	Generates a fresh session ID, stamps the start time, and copies the
//	initial message buffer and metadata so the caller's slices are not
//	aliased by the stored record.
//
// Inputs:
//
//	contextID - Conversational context identity. Must not be empty.
//	platform - Origin tag. Must be valid.
//	messages - Initial conversation buffer. May be nil.
//	metadata - Origin identifiers. May be nil.
//
// Outputs:
//
//	*Record - The new record in StatusInitializing.
//	error - ErrEmptyContextID or ErrInvalidPlatform on bad input.
func NewRecord(contextID string, platform Platform, messages []Message, metadata map[string]string) (*Record, error) {
	if contextID == "" {
		return nil, ErrEmptyContextID
	}
	if !platform.Valid() {
		return nil, ErrInvalidPlatform
	}

	r := &Record{
		SessionID: uuid.NewString(),
		ContextID: contextID,
		Platform:  platform,
		Status:    StatusInitializing,
		StartTime: time.Now().UTC(),
	}
	if len(messages) > 0 {
		r.Messages = append(r.Messages, messages...)
	}
	if len(metadata) > 0 {
		r.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			r.Metadata[k] = v
		}
	}
	return r, nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.ToolsUsed = append([]string(nil), r.ToolsUsed...)
	cp.ActionsPerformed = append([]string(nil), r.ActionsPerformed...)
	cp.Messages = append([]Message(nil), r.Messages...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Patch is a partial update merged into an active record.
//
// Nil/empty fields are left untouched. Appends are append-only by
// construction: a patch cannot remove or rewrite accumulated entries.
type Patch struct {
	// Status, when non-nil, advances the lifecycle phase.
	Status *Status

	// AppendTools appends tool names to the cumulative list.
	AppendTools []string

	// AppendActions appends actions to the cumulative list.
	AppendActions []string

	// AppendMessages appends entries to the conversation buffer.
	AppendMessages []Message

	// SetMetadata merges keys into the metadata map.
	SetMetadata map[string]string
}

// Apply merges the patch into the record.
//
// Description:
//
//	Appends cumulative fields and advances status. A status change that
//	would regress the phase sequence is rejected to protect the
//	monotonicity invariant; appends in the same patch are still applied.
//
// Inputs:
//
//	r - The record to mutate.
//
// Outputs:
//
//	error - ErrInvalidStatus or ErrStatusRegress on a bad status change.
func (p *Patch) Apply(r *Record) error {
	if len(p.AppendTools) > 0 {
		r.ToolsUsed = append(r.ToolsUsed, p.AppendTools...)
	}
	if len(p.AppendActions) > 0 {
		r.ActionsPerformed = append(r.ActionsPerformed, p.AppendActions...)
	}
	if len(p.AppendMessages) > 0 {
		r.Messages = append(r.Messages, p.AppendMessages...)
	}
	if len(p.SetMetadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(p.SetMetadata))
		}
		for k, v := range p.SetMetadata {
			r.Metadata[k] = v
		}
	}

	if p.Status != nil {
		next := *p.Status
		if !next.Valid() {
			return ErrInvalidStatus
		}
		if !CanAdvance(r.Status, next) {
			return ErrStatusRegress
		}
		r.Status = next
	}
	return nil
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s Status) *Status {
	return &s
}

// LastUserMessage returns the most recent user-originated message content.
//
// Callers that need the original triggering request must apply this to the
// initial buffer, captured before any retry feedback is appended.
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
