// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flight guarantees single-flight execution per conversational
// context.
//
// The registry maps a context id to the cancellation handle of the
// currently running execution. Acquiring a handle for a context that
// already has one signals the old handle to cancel before the new one is
// installed, so a fresh execution never begins side effects while a prior
// execution still believes it is current.
//
// The registry is process-local. Two orchestrator processes can each
// believe they hold the only execution for a context; that limitation is
// accepted under the single-shared-store deployment model. Construct one
// Registry per process and inject it; there is no package-level instance.
//
// Thread Safety:
//
//	Registry is safe for concurrent use.
package flight

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cancellation causes. Executions inspect context.Cause to distinguish a
// supersede (new event for the same context) from an explicit stop.
var (
	// ErrSuperseded is the cancellation cause when a newer execution for
	// the same context replaces a running one.
	ErrSuperseded = errors.New("superseded by newer execution for context")

	// ErrStopRequested is the cancellation cause for an explicit external
	// stop command.
	ErrStopRequested = errors.New("stop requested for context")
)

// Handle is the cancellation handle for one execution.
//
// The handle's context is cancelled when the execution is superseded,
// explicitly stopped, or released.
type Handle struct {
	contextID string
	ctx       context.Context
	cancel    context.CancelCauseFunc
	acquired  time.Time
}

// Context returns the execution's context.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Done returns the cancellation channel.
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Cause returns the cancellation cause, or nil while the handle is live.
func (h *Handle) Cause() error {
	return context.Cause(h.ctx)
}

// ContextID returns the conversational context this handle guards.
func (h *Handle) ContextID() string {
	return h.contextID
}

// AcquiredAt returns when the handle was installed.
func (h *Handle) AcquiredAt() time.Time {
	return h.acquired
}

// Registry is the per-process single-flight table.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	logger  *slog.Logger
}

// NewRegistry creates a single-flight registry.
//
// Description:
//
//	Creates an empty registry. One registry lives for the whole process;
//	tests may instantiate isolated registries freely.
//
// Inputs:
//
//	logger - Logger for supersede/stop events. If nil, slog.Default().
//
// Outputs:
//
//	*Registry - The registry. Never nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger.With(slog.String("component", "flight_registry")),
	}
}

// Acquire installs a fresh cancellation handle for a context.
//
// Description:
//
//	If a handle already exists for the context it is cancelled with cause
//	ErrSuperseded before the new handle is installed, so the old
//	execution's cancellation signal fires before the caller performs any
//	persisted side effect. Cancellation is a request, not a synchronous
//	stop: the old execution may still be unwinding when Acquire returns.
//
//	Acquire never fails; it is a pure in-memory operation.
//
// Inputs:
//
//	parent - Parent context for the new execution.
//	contextID - The conversational context to guard.
//
// Outputs:
//
//	*Handle - The installed handle. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Acquire(parent context.Context, contextID string) *Handle {
	if parent == nil {
		parent = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.handles[contextID]; ok {
		prior.cancel(ErrSuperseded)
		r.logger.Info("superseding running execution",
			slog.String("context_id", contextID),
			slog.Duration("prior_age", time.Since(prior.acquired)))
	}

	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle{
		contextID: contextID,
		ctx:       ctx,
		cancel:    cancel,
		acquired:  time.Now(),
	}
	r.handles[contextID] = h
	return h
}

// Release removes the mapping for a context, but only if the given handle
// is still the registered one.
//
// Description:
//
//	Compare-and-remove: a stale release from an already-superseded
//	execution is a no-op, so a slow cancelled execution's delayed cleanup
//	cannot erase a newer execution's registration. The handle's context
//	is cancelled on successful release to free its resources.
//
// Inputs:
//
//	contextID - The context to release.
//	handle - The handle the caller believes is current.
//
// Outputs:
//
//	bool - True if the mapping was removed.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Release(contextID string, handle *Handle) bool {
	if handle == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[contextID]
	if !ok || current != handle {
		return false
	}
	delete(r.handles, contextID)
	handle.cancel(nil)
	return true
}

// Cancel signals the running execution for a context to stop.
//
// Description:
//
//	Cancels the current handle with cause ErrStopRequested. The mapping
//	is left in place; the running execution removes it via Release during
//	its terminal cleanup. A second Cancel after that cleanup therefore
//	reports false.
//
// Inputs:
//
//	contextID - The context to stop.
//
// Outputs:
//
//	bool - True if an active execution was found and signalled.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Cancel(contextID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[contextID]
	if !ok {
		return false
	}
	h.cancel(ErrStopRequested)
	r.logger.Info("stop requested",
		slog.String("context_id", contextID),
		slog.Duration("age", time.Since(h.acquired)))
	return true
}

// Active returns the context ids with a registered execution.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered executions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
