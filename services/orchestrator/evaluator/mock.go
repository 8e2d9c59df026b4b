// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"sync"
)

// MockEvaluator is a scripted evaluator for testing.
//
// Queued verdicts are returned in order; when the queue is empty the
// fallback verdict is returned. Every call is recorded.
//
// Thread Safety: MockEvaluator is safe for concurrent use.
type MockEvaluator struct {
	mu       sync.RWMutex
	verdicts []*Verdict
	calls    []EvaluateCall
}

// EvaluateCall records one call to Evaluate.
type EvaluateCall struct {
	OriginalRequest string
	Summary         *AttemptSummary
}

// NewMockEvaluator creates an empty mock evaluator.
func NewMockEvaluator() *MockEvaluator {
	return &MockEvaluator{}
}

// QueueVerdict queues a verdict for the next call.
func (m *MockEvaluator) QueueVerdict(v *Verdict) *MockEvaluator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, v)
	return m
}

// Evaluate implements Evaluator.
func (m *MockEvaluator) Evaluate(_ context.Context, originalRequest string, summary *AttemptSummary) *Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, EvaluateCall{OriginalRequest: originalRequest, Summary: summary})

	if len(m.verdicts) > 0 {
		v := m.verdicts[0]
		m.verdicts = m.verdicts[1:]
		return v
	}
	return FallbackVerdict(summary, "mock queue empty")
}

// CallCount returns the number of Evaluate calls.
func (m *MockEvaluator) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded calls.
func (m *MockEvaluator) Calls() []EvaluateCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]EvaluateCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}
