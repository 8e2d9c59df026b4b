// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluator judges whether a generation attempt satisfied the
// originating request.
//
// The evaluator contract is total: Evaluate always returns a verdict and
// never fails, even when its own backing computation is unavailable. On
// any internal failure implementations return the fallback verdict so the
// attempt loop's control flow stays deterministic.
//
// Evaluators are stateless per call; they must not depend on cross-call
// memory.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
package evaluator

import "context"

// AttemptSummary describes one completed generation attempt.
type AttemptSummary struct {
	// ToolsUsed lists the distinct tool names the attempt invoked.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// ActionsPerformed lists the attempt's actions in order.
	ActionsPerformed []string `json:"actions_performed,omitempty"`

	// FinalText is the attempt's final output.
	FinalText string `json:"final_text"`

	// EndedExplicitly reports whether the engine declared itself done.
	EndedExplicitly bool `json:"ended_explicitly"`

	// Attempt is the 1-based attempt number.
	Attempt int `json:"attempt"`
}

// Verdict is the structured evaluation outcome.
type Verdict struct {
	// IsComplete reports whether the attempt satisfied the request.
	IsComplete bool `json:"is_complete"`

	// Confidence is the evaluator's certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// Reasoning explains the verdict.
	Reasoning string `json:"reasoning"`

	// MissingActions names actions the attempt should have taken.
	MissingActions []string `json:"missing_actions,omitempty"`

	// NextSteps suggests what the next attempt should do.
	NextSteps string `json:"next_steps,omitempty"`
}

// Evaluator judges attempt completion.
type Evaluator interface {
	// Evaluate returns a verdict for the attempt.
	//
	// Description:
	//   Total: always returns a non-nil verdict, never an error. Internal
	//   failures degrade to FallbackVerdict.
	//
	// Inputs:
	//   ctx - Cancellation signal; a cancelled ctx yields the fallback.
	//   originalRequest - The last user-originated message of the
	//     original triggering conversation (not the retry-augmented one).
	//   summary - The attempt summary.
	//
	// Outputs:
	//   *Verdict - The verdict. Never nil.
	Evaluate(ctx context.Context, originalRequest string, summary *AttemptSummary) *Verdict
}

// FallbackVerdict is the verdict used when evaluation itself fails.
//
// Description:
//
//	An attempt that ended explicitly after using at least one tool is
//	presumed complete; anything else is presumed incomplete. Confidence
//	is fixed at 0.5 so the loop neither trusts nor aggressively retries
//	a blind verdict.
//
// Inputs:
//
//	summary - The attempt summary. Must not be nil.
//	reason - Short note on why evaluation fell back.
//
// Outputs:
//
//	*Verdict - The heuristic verdict. Never nil.
func FallbackVerdict(summary *AttemptSummary, reason string) *Verdict {
	return &Verdict{
		IsComplete: summary.EndedExplicitly && len(summary.ToolsUsed) > 0,
		Confidence: 0.5,
		Reasoning:  "evaluation unavailable, heuristic fallback: " + reason,
	}
}
