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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/engine"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/evaluator"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/events"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/flight"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

// runAttempts drives the bounded attempt loop for one session.
//
// Description:
//
//	Runs up to MaxAttempts generation passes. Each attempt restarts at
//	the planning phase and advances monotonically as the engine reports
//	progress. After every non-final attempt the evaluator judges the
//	result against the original triggering request; an incomplete
//	verdict below the confidence threshold injects feedback and retries,
//	while a confident incomplete verdict accepts the answer as-is. The
//	final attempt's result is accepted without evaluation.
//
//	Cancellation is checked at attempt boundaries and after every
//	suspension point. A cancelled context resolves to the cancelled
//	status with an acknowledgement text, never an error.
//
// Outputs:
//
//	string - The user-visible final text.
//	session.Status - The terminal status to finalize with.
//	error - Non-nil only when generation failed on the final attempt.
func (s *Service) runAttempts(ctx context.Context, record *session.Record, originalRequest string) (string, session.Status, error) {
	buffer := append([]session.Message(nil), record.Messages...)
	lastText := ""

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return s.ackText(ctx), session.StatusCancelled, nil
		}

		s.emitter.Emit(events.TypeAttemptStarted, record.SessionID, record.ContextID,
			&events.AttemptStartedData{Attempt: attempt, MaxAttempts: s.cfg.MaxAttempts})
		if s.metrics != nil {
			s.metrics.AttemptsTotal.Inc()
		}

		// Every attempt restarts the phase ladder at planning.
		s.setPhase(record, session.StatusPlanning, attempt)

		var progress atomic.Int32
		statusFn := func(update string) {
			s.emitter.Emit(events.TypeEngineStatus, record.SessionID, record.ContextID,
				&events.EngineStatusData{Update: update})
			switch progress.Add(1) {
			case 1:
				s.setPhase(record, session.StatusGathering, attempt)
			case 2:
				s.setPhase(record, session.StatusActing, attempt)
			}
		}

		result, genErr := s.engine.Generate(ctx, &engine.Request{
			Messages: buffer,
			Status:   statusFn,
			Metadata: record.Metadata,
		})
		if genErr != nil {
			if ctx.Err() != nil {
				return s.ackText(ctx), session.StatusCancelled, nil
			}
			s.emitter.Emit(events.TypeAttemptCompleted, record.SessionID, record.ContextID,
				&events.AttemptCompletedData{Attempt: attempt, Error: genErr.Error()})
			if attempt < s.cfg.MaxAttempts {
				recovery := recoveryMessage(genErr)
				buffer = append(buffer, recovery)
				s.emitter.Emit(events.TypeFeedbackInjected, record.SessionID, record.ContextID,
					&events.FeedbackInjectedData{
						Attempt:  attempt,
						Recovery: true,
						Message:  recovery.Content,
					})
				if s.metrics != nil {
					s.metrics.RetriesTotal.WithLabelValues("error").Inc()
				}
				s.logger.Warn("attempt failed, retrying with recovery feedback",
					slog.String("session_id", record.SessionID),
					slog.Int("attempt", attempt),
					slog.String("error", genErr.Error()))
				continue
			}
			return "", session.StatusError, fmt.Errorf("%w: %w", ErrAttemptsExhausted, genErr)
		}

		if result.Kind == engine.KindStopped {
			return StopAckText, session.StatusCancelled, nil
		}

		lastText = result.Text
		s.emitter.Emit(events.TypeAttemptCompleted, record.SessionID, record.ContextID,
			&events.AttemptCompletedData{
				Attempt:         attempt,
				ToolsUsed:       result.ToolsUsed,
				Actions:         result.ActionsPerformed,
				EndedExplicitly: result.EndedExplicitly,
			})

		// The engine's answer joins the working buffer so a retry sees
		// what the prior attempt produced. Durable messages carry only
		// injected feedback.
		buffer = append(buffer, session.Message{
			Role:      session.RoleAssistant,
			Content:   result.Text,
			Timestamp: time.Now().UTC(),
		})

		if attempt == s.cfg.MaxAttempts {
			// The ceiling result is accepted without evaluation.
			break
		}
		if ctx.Err() != nil {
			return s.ackText(ctx), session.StatusCancelled, nil
		}

		s.setPhase(record, session.StatusCompleting, attempt)
		verdict := s.evaluator.Evaluate(ctx, originalRequest, &evaluator.AttemptSummary{
			ToolsUsed:        distinct(result.ToolsUsed),
			ActionsPerformed: result.ActionsPerformed,
			FinalText:        result.Text,
			EndedExplicitly:  result.EndedExplicitly,
			Attempt:          attempt,
		})
		if ctx.Err() != nil {
			return s.ackText(ctx), session.StatusCancelled, nil
		}

		if verdict.IsComplete {
			return lastText, session.StatusCompleted, nil
		}
		if verdict.Confidence >= s.cfg.ConfidenceThreshold {
			// Incomplete but the evaluator sees little to gain from a
			// retry; the answer stands.
			s.logger.Info("accepting incomplete result at high confidence",
				slog.String("session_id", record.SessionID),
				slog.Int("attempt", attempt),
				slog.Float64("confidence", verdict.Confidence))
			return lastText, session.StatusCompleted, nil
		}

		fb := feedbackMessage(verdict)
		buffer = append(buffer, fb)
		s.emitter.Emit(events.TypeFeedbackInjected, record.SessionID, record.ContextID,
			&events.FeedbackInjectedData{
				Attempt:    attempt,
				Confidence: verdict.Confidence,
				Reasoning:  verdict.Reasoning,
				Recovery:   false,
				Message:    fb.Content,
			})
		if s.metrics != nil {
			s.metrics.RetriesTotal.WithLabelValues("low_confidence").Inc()
		}
		s.logger.Info("retrying with evaluator feedback",
			slog.String("session_id", record.SessionID),
			slog.Int("attempt", attempt),
			slog.Float64("confidence", verdict.Confidence))
	}

	return lastText, session.StatusCompleted, nil
}

// setPhase advances the in-memory record and announces the transition.
// Persistence happens in the stream subscriber, which rejects regressions
// on the durable copy independently.
func (s *Service) setPhase(record *session.Record, to session.Status, attempt int) {
	from := record.Status
	if from == to {
		return
	}
	record.Status = to
	s.emitter.Emit(events.TypePhaseChanged, record.SessionID, record.ContextID,
		&events.PhaseChangedData{From: string(from), To: string(to), Attempt: attempt})
}

// ackText picks the acknowledgement for a cancelled execution based on
// the cancellation cause.
func (s *Service) ackText(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), flight.ErrSuperseded) {
		return SupersededAckText
	}
	return StopAckText
}

// recoveryMessage builds the feedback injected after a failed attempt.
func recoveryMessage(genErr error) session.Message {
	return session.Message{
		Role: session.RoleUser,
		Content: fmt.Sprintf(
			"The previous attempt failed with an error: %s. Please try a different approach to complete the original request.",
			genErr.Error()),
		Timestamp: time.Now().UTC(),
	}
}

// feedbackMessage builds the retry feedback from an evaluator verdict.
func feedbackMessage(v *evaluator.Verdict) session.Message {
	var b strings.Builder
	b.WriteString("The previous attempt did not fully complete the request.")
	if v.Reasoning != "" {
		b.WriteString(" ")
		b.WriteString(v.Reasoning)
	}
	if len(v.MissingActions) > 0 {
		b.WriteString("\nStill missing: ")
		b.WriteString(strings.Join(v.MissingActions, "; "))
	}
	if v.NextSteps != "" {
		b.WriteString("\nSuggested next steps: ")
		b.WriteString(v.NextSteps)
	}
	b.WriteString("\nPlease continue and finish the original request.")
	return session.Message{
		Role:      session.RoleUser,
		Content:   b.String(),
		Timestamp: time.Now().UTC(),
	}
}

// distinct returns the unique strings in order of first appearance.
func distinct(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
