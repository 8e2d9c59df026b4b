// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine defines the generation engine contract consumed by the
// attempt loop.
//
// The engine is an external collaborator: the relay owns neither its
// prompt content nor its tool catalog. The loop depends only on the
// structured result defined here. A stop requested by the user surfaces
// as a tagged result kind, never as a magic error string, so the loop
// dispatches on structure.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
package engine

import (
	"context"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/session"
)

// Kind tags a generation result.
type Kind string

const (
	// KindOK is a normal completion: the engine produced final text.
	KindOK Kind = "ok"

	// KindStopped means the engine observed an explicit user stop request
	// while generating. Not a failure.
	KindStopped Kind = "stopped"
)

// StatusFunc receives human-readable progress strings at the engine's
// discretion. Implementations must tolerate a nil StatusFunc.
type StatusFunc func(update string)

// Request is one generation invocation.
type Request struct {
	// Messages is the conversation buffer for this attempt, including any
	// retry feedback appended by prior attempts.
	Messages []session.Message

	// Status, when non-nil, receives progress updates during generation.
	Status StatusFunc

	// Metadata carries origin identifiers for engines that scope their
	// tool access by platform.
	Metadata map[string]string
}

// Result is the structured outcome of one generation attempt.
type Result struct {
	// Kind tags the outcome: ok or stopped.
	Kind Kind

	// Text is the engine's final text. Empty when Kind is stopped.
	Text string

	// ToolsUsed lists tool names the engine invoked, in order.
	ToolsUsed []string

	// ActionsPerformed lists externally visible actions the engine took.
	ActionsPerformed []string

	// EndedExplicitly reports whether the engine declared itself finished
	// rather than running out of steps.
	EndedExplicitly bool
}

// Engine generates one attempt's output for a conversation buffer.
type Engine interface {
	// Generate runs one bounded unit of work.
	//
	// Description:
	//   Must respect ctx cancellation and stop promptly when signalled.
	//   A user-initiated stop observed mid-generation returns a Result
	//   with Kind KindStopped and a nil error. Transport and provider
	//   failures return a non-nil error; the loop decides retry.
	//
	// Inputs:
	//   ctx - Cancellation signal for this attempt.
	//   req - The generation request.
	//
	// Outputs:
	//   *Result - The structured outcome. Nil only when error is non-nil.
	//   error - Non-nil on generation failure.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// Name returns the provider name (e.g. "openai", "mock").
	Name() string

	// Model returns the model identifier in use.
	Model() string
}
