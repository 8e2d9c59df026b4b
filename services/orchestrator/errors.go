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

import "errors"

// Service errors.
var (
	// ErrNilEngine is returned when no generation engine is injected.
	ErrNilEngine = errors.New("engine must not be nil")

	// ErrNilEvaluator is returned when no goal evaluator is injected.
	ErrNilEvaluator = errors.New("evaluator must not be nil")

	// ErrNilStore is returned when no session store is injected.
	ErrNilStore = errors.New("store must not be nil")

	// ErrAttemptsExhausted wraps the final generation error once every
	// allowed attempt has failed.
	ErrAttemptsExhausted = errors.New("generation attempts exhausted")
)
