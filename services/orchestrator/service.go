// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives relay sessions from an inbound event to a
// terminal record.
//
// The service guarantees at most one live execution per conversational
// context, retries failed or incomplete attempts with injected feedback
// up to a fixed bound, and keeps durable, externally observable session
// state across process restarts.
//
// The public surface is Run (the sole entry point for inbound event
// adapters), Cancel (the external stop channel), and Enqueue (buffering
// for busy contexts).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRelay/pkg/validation"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/engine"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/evaluator"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/events"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/flight"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/queue"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

// StatusFunc receives human-readable progress strings for one run.
type StatusFunc func(update string)

// Outcome is the result of one completed Run.
type Outcome struct {
	// SessionID identifies the session record the run produced.
	SessionID string

	// Status is the terminal status the session finalized with.
	Status session.Status

	// FinalText is the user-visible answer or acknowledgement.
	FinalText string
}

// Dependencies contains the collaborators injected into a Service.
type Dependencies struct {
	// Store persists session records. Required.
	Store *session.Store

	// Registry is the single-flight table. Defaults to a fresh registry.
	Registry *flight.Registry

	// Queue buffers messages for busy contexts. Defaults to a fresh queue.
	Queue *queue.Queue

	// Engine performs generation attempts. Required.
	Engine engine.Engine

	// Evaluator judges attempt completion. Required.
	Evaluator evaluator.Evaluator

	// Emitter is the status event stream. Defaults to a fresh emitter.
	Emitter *events.Emitter
}

// Service is the relay orchestrator.
//
// Thread Safety: Service is safe for concurrent use; the registry
// serializes executions per context.
type Service struct {
	cfg       Config
	store     *session.Store
	registry  *flight.Registry
	queue     *queue.Queue
	engine    engine.Engine
	evaluator evaluator.Evaluator
	emitter   *events.Emitter
	logger    *slog.Logger
	metrics   *Metrics
}

// NewService creates the orchestrator service.
//
// Description:
//
//	Validates configuration, fills in default collaborators, and wires
//	the persistence and logging subscribers onto the event stream. The
//	registry is created here when none is injected; create one Service
//	per process so the single-flight table is unique.
//
// Inputs:
//
//	cfg - Service configuration. Zero values use defaults.
//	deps - Collaborators. Store, Engine, and Evaluator are required.
//
// Outputs:
//
//	*Service - The service.
//	error - Non-nil on invalid configuration or missing dependency.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, ErrNilStore
	}
	if deps.Engine == nil {
		return nil, ErrNilEngine
	}
	if deps.Evaluator == nil {
		return nil, ErrNilEvaluator
	}

	logger := cfg.Logger.With(slog.String("component", "orchestrator"))

	registry := deps.Registry
	if registry == nil {
		registry = flight.NewRegistry(cfg.Logger)
	}
	q := deps.Queue
	if q == nil {
		q = queue.New(queue.Config{Logger: cfg.Logger})
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}

	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		registry:  registry,
		queue:     q,
		engine:    deps.Engine,
		evaluator: deps.Evaluator,
		emitter:   emitter,
		logger:    logger,
	}
	if cfg.EnableMetrics {
		s.metrics = NewMetrics()
	}

	// Persistence and logging consume the stream independently of the
	// attempt loop's control flow.
	s.emitter.Subscribe(s.persistenceHandler(),
		events.TypePhaseChanged,
		events.TypeAttemptCompleted,
		events.TypeFeedbackInjected)
	s.emitter.Subscribe(events.LoggingHandler(logger, slog.LevelDebug))

	return s, nil
}

// Run executes one session for an inbound event.
//
// Description:
//
//	The sole public entry point. Messages queued while a prior execution
//	for the context was running are drained into the buffer, the prior
//	execution (if any) is cancelled via the single-flight registry before
//	this session persists any state, and the attempt loop runs to a
//	terminal status. Terminal cleanup runs exactly once on every exit
//	path.
//
//	Cooperative terminations (explicit stop, supersede) resolve to a
//	short acknowledgement text with a nil error: user-visible failure is
//	always a text message. Only exhausted generation errors propagate.
//
// Inputs:
//
//	ctx - Parent context for the execution.
//	contextID - The conversational context. Must not be empty.
//	msgs - The triggering conversation buffer.
//	platform - Origin tag; empty defaults to generic.
//	metadata - Free-form origin identifiers.
//	statusFn - Optional progress callback.
//
// Outputs:
//
//	*Outcome - The session ID, terminal status, and final text.
//	error - Non-nil only on invalid input or exhausted generation failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) Run(ctx context.Context, contextID string, msgs []session.Message, platform session.Platform, metadata map[string]string, statusFn StatusFunc) (*Outcome, error) {
	if contextID == "" {
		return nil, session.ErrEmptyContextID
	}
	if err := validation.ValidateContextID(contextID); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidContextID, err)
	}
	if platform == "" {
		platform = session.PlatformGeneric
	}
	if !platform.Valid() {
		return nil, session.ErrInvalidPlatform
	}

	// The original triggering request is captured before queued messages
	// and retry feedback join the buffer.
	originalRequest := session.LastUserMessage(msgs)

	buffer := append([]session.Message(nil), msgs...)
	for _, qm := range s.queue.DrainAll(contextID) {
		if qm.Type == queue.TypeStop {
			// A stop for an execution that no longer exists.
			continue
		}
		buffer = append(buffer, session.Message{
			Role:      session.RoleUser,
			Content:   qm.Content,
			Timestamp: qm.Timestamp,
		})
	}

	// Cancels any running execution for this context before this one
	// performs its first persisted write.
	handle := s.registry.Acquire(ctx, contextID)
	defer s.registry.Release(contextID, handle)

	if s.metrics != nil {
		s.metrics.ActiveExecutions.Inc()
		defer s.metrics.ActiveExecutions.Dec()
	}

	record, err := session.NewRecord(contextID, platform, buffer, metadata)
	if err != nil {
		return nil, err
	}

	if statusFn != nil {
		subID := s.emitter.Subscribe(statusBridge(record.SessionID, statusFn),
			events.TypeEngineStatus, events.TypePhaseChanged)
		defer s.emitter.Unsubscribe(subID)
	}

	if err := s.store.Create(handle.Context(), record); err != nil {
		// Visibility is best-effort; generation proceeds regardless.
		s.logger.Warn("session create failed, continuing without visibility",
			slog.String("session_id", record.SessionID),
			slog.String("error", err.Error()))
	}
	s.emitter.Emit(events.TypeSessionCreated, record.SessionID, contextID, nil)
	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}
	s.logger.Info("session started",
		slog.String("session_id", record.SessionID),
		slog.String("context_id", contextID),
		slog.String("platform", string(platform)),
		slog.Int("buffered_messages", len(buffer)))

	text, terminal, runErr := s.runAttempts(handle.Context(), record, originalRequest)

	s.finalizeSession(record, terminal, runErr)

	if terminal == session.StatusError {
		return nil, runErr
	}
	return &Outcome{
		SessionID: record.SessionID,
		Status:    terminal,
		FinalText: text,
	}, nil
}

// Cancel aborts the running session for a context, if any.
//
// Inputs:
//
//	contextID - The conversational context to stop.
//
// Outputs:
//
//	bool - True if an active session was found and signalled.
func (s *Service) Cancel(contextID string) bool {
	found := s.registry.Cancel(contextID)
	if found {
		s.emitter.Emit(events.TypeStopRequested, "", contextID, nil)
	}
	return found
}

// Enqueue buffers a message for a context whose session is busy.
//
// Outputs:
//
//	int - The queue depth for the context after the append.
func (s *Service) Enqueue(contextID string, msg queue.QueuedMessage) int {
	s.queue.Enqueue(contextID, msg)
	if s.metrics != nil {
		s.metrics.MessagesQueued.Inc()
	}
	return s.queue.Len(contextID)
}

// Busy reports whether a context has a running execution.
func (s *Service) Busy(contextID string) bool {
	for _, id := range s.registry.Active() {
		if id == contextID {
			return true
		}
	}
	return false
}

// Store exposes the session store for observability handlers.
func (s *Service) Store() *session.Store {
	return s.store
}

// Emitter exposes the status event stream.
func (s *Service) Emitter() *events.Emitter {
	return s.emitter
}

// Metrics exposes the registered metrics, or nil when disabled.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// statusBridge adapts stream events for one session onto a StatusFunc.
func statusBridge(sessionID string, statusFn StatusFunc) events.Handler {
	return func(e *events.Event) {
		if e.SessionID != sessionID {
			return
		}
		switch data := e.Data.(type) {
		case *events.EngineStatusData:
			statusFn(data.Update)
		case *events.PhaseChangedData:
			statusFn(data.To + "...")
		}
	}
}

// persistenceHandler mirrors stream events into the session store.
//
// Runs on a background context: persistence must proceed on cancellation
// paths, and store failures are already swallowed at update granularity.
func (s *Service) persistenceHandler() events.Handler {
	return func(e *events.Event) {
		if e.SessionID == "" {
			return
		}
		ctx := context.Background()

		switch data := e.Data.(type) {
		case *events.PhaseChangedData:
			s.update(ctx, e.SessionID, session.Patch{
				Status: session.StatusPtr(session.Status(data.To)),
			})
		case *events.AttemptCompletedData:
			if len(data.ToolsUsed) == 0 && len(data.Actions) == 0 {
				return
			}
			s.update(ctx, e.SessionID, session.Patch{
				AppendTools:   data.ToolsUsed,
				AppendActions: data.Actions,
			})
		case *events.FeedbackInjectedData:
			s.update(ctx, e.SessionID, session.Patch{
				AppendMessages: []session.Message{{
					Role:      session.RoleUser,
					Content:   data.Message,
					Timestamp: time.Now().UTC(),
				}},
			})
		}
	}
}

func (s *Service) update(ctx context.Context, sessionID string, patch session.Patch) {
	if err := s.store.Update(ctx, sessionID, patch); err != nil {
		s.logger.Warn("session update failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

// finalizeSession runs the single terminal cleanup for a session.
func (s *Service) finalizeSession(record *session.Record, terminal session.Status, runErr error) {
	errDetail := ""
	if runErr != nil && terminal == session.StatusError {
		errDetail = runErr.Error()
	}

	completed, err := s.store.Finalize(context.Background(), record.SessionID, terminal, errDetail)
	if err != nil {
		s.logger.Error("session finalize failed",
			slog.String("session_id", record.SessionID),
			slog.String("error", err.Error()))
	}

	var duration time.Duration
	if completed != nil {
		duration = completed.Duration
	}
	s.emitter.Emit(events.TypeSessionFinalized, record.SessionID, record.ContextID,
		&events.SessionFinalizedData{
			Status:   string(terminal),
			Duration: duration,
			Error:    errDetail,
		})

	if s.metrics != nil {
		s.metrics.SessionsFinalized.WithLabelValues(string(terminal)).Inc()
		if completed != nil {
			s.metrics.SessionDurationSeconds.WithLabelValues(string(terminal)).
				Observe(duration.Seconds())
		}
	}
	s.logger.Info("session finalized",
		slog.String("session_id", record.SessionID),
		slog.String("context_id", record.ContextID),
		slog.String("status", string(terminal)),
		slog.Duration("duration", duration))
}
