// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"
)

// MockEngine is a scripted engine for testing.
//
// Queued results are returned in order; when the queue is empty the
// default result is returned. Every call is recorded.
//
// Thread Safety: MockEngine is safe for concurrent use.
type MockEngine struct {
	mu sync.RWMutex

	results       []*Result
	errs          []error
	defaultResult *Result
	calls         []GenerateCall
	delay         time.Duration
	generateFunc  func(ctx context.Context, req *Request) (*Result, error)
}

// GenerateCall records one call to Generate.
type GenerateCall struct {
	Request   *Request
	Timestamp time.Time
}

// NewMockEngine creates a mock engine with a benign default result.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		defaultResult: &Result{
			Kind:            KindOK,
			Text:            "mock response",
			EndedExplicitly: true,
		},
	}
}

// QueueResult queues a result (with optional error) for the next call.
// A non-nil err makes the call fail with that error.
func (m *MockEngine) QueueResult(result *Result, err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	m.errs = append(m.errs, err)
	return m
}

// WithDelay adds artificial latency to every call.
func (m *MockEngine) WithDelay(d time.Duration) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGenerateFunc installs a dynamic handler, bypassing the queue.
func (m *MockEngine) WithGenerateFunc(f func(ctx context.Context, req *Request) (*Result, error)) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = f
	return m
}

// Generate implements Engine.
func (m *MockEngine) Generate(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{Request: req, Timestamp: time.Now()})
	f := m.generateFunc
	delay := m.delay
	var result *Result
	var err error
	if f == nil {
		if len(m.results) > 0 {
			result, err = m.results[0], m.errs[0]
			m.results, m.errs = m.results[1:], m.errs[1:]
		} else {
			result = m.defaultResult
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f != nil {
		return f(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Name implements Engine.
func (m *MockEngine) Name() string {
	return "mock"
}

// Model implements Engine.
func (m *MockEngine) Model() string {
	return "mock-model"
}

// CallCount returns the number of Generate calls.
func (m *MockEngine) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded calls.
func (m *MockEngine) Calls() []GenerateCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]GenerateCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}
