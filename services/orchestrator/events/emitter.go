// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Subscription represents one registered handler.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts session events to subscribers and keeps a bounded
// replay buffer for observability queries.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the replay buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// NewEmitter creates an event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each matching event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Types:   types,
	}
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers.
//
// Description:
//
//	Stamps id and timestamp, appends to the replay buffer (evicting the
//	oldest entry when full), and invokes matching handlers with panic
//	recovery so one failing subscriber cannot take down the stream.
//
// Inputs:
//
//	eventType - The event kind.
//	sessionID - The session the event belongs to.
//	contextID - The session's conversational context.
//	data - Typed payload from types.go (nil is allowed).
//
// Thread Safety: Safe for concurrent use.
func (e *Emitter) Emit(eventType Type, sessionID, contextID string, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		ContextID: contextID,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if matches(sub, &event) {
			safeInvoke(sub.Handler, &event)
		}
	}
}

// safeInvoke calls a handler with panic recovery.
func safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func matches(sub *Subscription, event *Event) bool {
	if len(sub.Types) == 0 {
		return true
	}
	for _, t := range sub.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

// BufferSince returns buffered events emitted after a timestamp.
func (e *Emitter) BufferSince(since time.Time) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.Timestamp.After(since) {
			out = append(out, event)
		}
	}
	return out
}

// BufferForSession returns buffered events for one session.
func (e *Emitter) BufferForSession(sessionID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.SessionID == sessionID {
			out = append(out, event)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// LoggingHandler creates a handler that logs events.
//
// Inputs:
//
//	logger - The slog logger to use.
//	level - The log level for events.
//
// Outputs:
//
//	Handler - A handler function that logs events.
func LoggingHandler(logger *slog.Logger, level slog.Level) Handler {
	return func(event *Event) {
		attrs := []any{
			slog.String("event_type", string(event.Type)),
			slog.String("session_id", event.SessionID),
			slog.String("context_id", event.ContextID),
		}

		switch data := event.Data.(type) {
		case *PhaseChangedData:
			attrs = append(attrs,
				slog.String("from", data.From),
				slog.String("to", data.To),
				slog.Int("attempt", data.Attempt))
		case *AttemptStartedData:
			attrs = append(attrs,
				slog.Int("attempt", data.Attempt),
				slog.Int("max_attempts", data.MaxAttempts))
		case *AttemptCompletedData:
			attrs = append(attrs,
				slog.Int("attempt", data.Attempt),
				slog.Int("tools", len(data.ToolsUsed)),
				slog.Bool("ended_explicitly", data.EndedExplicitly))
			if data.Error != "" {
				attrs = append(attrs, slog.String("error", data.Error))
			}
		case *FeedbackInjectedData:
			attrs = append(attrs,
				slog.Int("attempt", data.Attempt),
				slog.Bool("recovery", data.Recovery))
		case *EngineStatusData:
			attrs = append(attrs, slog.String("update", data.Update))
		case *SessionFinalizedData:
			attrs = append(attrs,
				slog.String("status", data.Status),
				slog.Duration("duration", data.Duration))
			if data.Error != "" {
				attrs = append(attrs, slog.String("error", data.Error))
			}
		}

		logger.Log(context.Background(), level, "session event", attrs...)
	}
}
