// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_Acquire_FirstFlight(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Acquire(context.Background(), "ctx-1")

	if h == nil {
		t.Fatal("Acquire returned nil handle")
	}
	select {
	case <-h.Done():
		t.Fatal("fresh handle should not be cancelled")
	default:
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Acquire_SupersedesPrior(t *testing.T) {
	r := NewRegistry(nil)
	first := r.Acquire(context.Background(), "ctx-1")
	second := r.Acquire(context.Background(), "ctx-1")

	// The prior flight is cancelled synchronously, before Acquire returns.
	select {
	case <-first.Done():
	default:
		t.Fatal("prior handle should be cancelled when superseded")
	}
	if !errors.Is(first.Cause(), ErrSuperseded) {
		t.Errorf("Cause = %v, want ErrSuperseded", first.Cause())
	}

	select {
	case <-second.Done():
		t.Fatal("new handle should be live")
	default:
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after supersede", r.Len())
	}
}

func TestRegistry_Acquire_IndependentContexts(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Acquire(context.Background(), "ctx-a")
	b := r.Acquire(context.Background(), "ctx-b")

	select {
	case <-a.Done():
		t.Fatal("ctx-a should be unaffected by ctx-b")
	case <-b.Done():
		t.Fatal("ctx-b should be live")
	default:
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Cancel(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Acquire(context.Background(), "ctx-1")

	if !r.Cancel("ctx-1") {
		t.Fatal("Cancel should find the active flight")
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("handle should be cancelled")
	}
	if !errors.Is(h.Cause(), ErrStopRequested) {
		t.Errorf("Cause = %v, want ErrStopRequested", h.Cause())
	}

	// The mapping stays until the owner releases; a second cancel
	// reports no live flight.
	if r.Cancel("ctx-1") {
		t.Error("second Cancel should return false")
	}
}

func TestRegistry_Cancel_UnknownContext(t *testing.T) {
	r := NewRegistry(nil)
	if r.Cancel("ghost") {
		t.Error("Cancel of unknown context should return false")
	}
}

func TestRegistry_Release_CompareAndRemove(t *testing.T) {
	r := NewRegistry(nil)
	first := r.Acquire(context.Background(), "ctx-1")
	second := r.Acquire(context.Background(), "ctx-1")

	// The superseded flight's release must not evict the new one.
	if r.Release("ctx-1", first) {
		t.Error("stale Release should report false")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after stale release", r.Len())
	}

	if !r.Release("ctx-1", second) {
		t.Error("owner Release should report true")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Release_CancelsContext(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Acquire(context.Background(), "ctx-1")
	r.Release("ctx-1", h)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("released handle should have a dead context")
	}
}

func TestRegistry_ParentCancellationPropagates(t *testing.T) {
	r := NewRegistry(nil)
	parent, cancel := context.WithCancel(context.Background())
	h := r.Acquire(parent, "ctx-1")

	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation should propagate to the handle")
	}
}

func TestRegistry_Active(t *testing.T) {
	r := NewRegistry(nil)
	r.Acquire(context.Background(), "ctx-a")
	r.Acquire(context.Background(), "ctx-b")

	active := r.Active()
	if len(active) != 2 {
		t.Fatalf("Active() = %v, want 2 entries", active)
	}
	seen := map[string]bool{}
	for _, id := range active {
		seen[id] = true
	}
	if !seen["ctx-a"] || !seen["ctx-b"] {
		t.Errorf("Active() = %v, missing contexts", active)
	}
}

func TestRegistry_ConcurrentAcquire_SingleWinner(t *testing.T) {
	r := NewRegistry(nil)

	const n = 32
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			handles[i] = r.Acquire(context.Background(), "ctx-1")
		}(i)
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	live := 0
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			live++
		}
	}
	if live != 1 {
		t.Errorf("live handles = %d, want exactly 1", live)
	}
}
