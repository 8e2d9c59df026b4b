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
	"testing"
	"time"
)

func TestEmitter_SubscribeAndEmit(t *testing.T) {
	e := NewEmitter()

	var received []*Event
	e.Subscribe(func(ev *Event) { received = append(received, ev) })

	e.Emit(TypeSessionCreated, "sess-1", "ctx-1", nil)
	e.Emit(TypePhaseChanged, "sess-1", "ctx-1", &PhaseChangedData{From: "planning", To: "gathering", Attempt: 1})

	if len(received) != 2 {
		t.Fatalf("received %d events, want 2", len(received))
	}
	if received[0].Type != TypeSessionCreated || received[1].Type != TypePhaseChanged {
		t.Errorf("types = %s, %s", received[0].Type, received[1].Type)
	}
	if received[0].ID == "" || received[0].Timestamp.IsZero() {
		t.Error("events should carry an ID and timestamp")
	}
}

func TestEmitter_TypeFilter(t *testing.T) {
	e := NewEmitter()

	var got []Type
	e.Subscribe(func(ev *Event) { got = append(got, ev.Type) }, TypePhaseChanged)

	e.Emit(TypeSessionCreated, "sess-1", "ctx-1", nil)
	e.Emit(TypePhaseChanged, "sess-1", "ctx-1", nil)
	e.Emit(TypeAttemptStarted, "sess-1", "ctx-1", nil)

	if len(got) != 1 || got[0] != TypePhaseChanged {
		t.Errorf("filtered subscriber got %v, want only phase_changed", got)
	}
}

func TestEmitter_SynchronousDelivery(t *testing.T) {
	e := NewEmitter()

	// Handlers run inline on the emitting goroutine, so state written by
	// a handler is visible as soon as Emit returns.
	delivered := false
	e.Subscribe(func(*Event) { delivered = true })

	e.Emit(TypeSessionCreated, "sess-1", "ctx-1", nil)
	if !delivered {
		t.Error("handler should run before Emit returns")
	}
}

func TestEmitter_OrderingAcrossSubscriber(t *testing.T) {
	e := NewEmitter()

	var order []Type
	e.Subscribe(func(ev *Event) { order = append(order, ev.Type) })

	e.Emit(TypeAttemptStarted, "s", "c", nil)
	e.Emit(TypeFeedbackInjected, "s", "c", nil)
	e.Emit(TypeSessionFinalized, "s", "c", nil)

	want := []Type{TypeAttemptStarted, TypeFeedbackInjected, TypeSessionFinalized}
	for i, typ := range want {
		if order[i] != typ {
			t.Fatalf("order[%d] = %s, want %s", i, order[i], typ)
		}
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()

	count := 0
	id := e.Subscribe(func(*Event) { count++ })

	e.Emit(TypeSessionCreated, "s", "c", nil)
	if !e.Unsubscribe(id) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	e.Emit(TypeSessionCreated, "s", "c", nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
	if e.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}
}

func TestEmitter_PanickingHandlerIsContained(t *testing.T) {
	e := NewEmitter()

	e.Subscribe(func(*Event) { panic("handler bug") })
	survived := false
	e.Subscribe(func(*Event) { survived = true })

	e.Emit(TypeSessionCreated, "s", "c", nil)

	if !survived {
		t.Error("a panicking handler must not break delivery to others")
	}
}

func TestEmitter_BufferForSession(t *testing.T) {
	e := NewEmitter()

	e.Emit(TypeSessionCreated, "sess-a", "ctx", nil)
	e.Emit(TypeSessionCreated, "sess-b", "ctx", nil)
	e.Emit(TypeSessionFinalized, "sess-a", "ctx", nil)

	got := e.BufferForSession("sess-a")
	if len(got) != 2 {
		t.Fatalf("BufferForSession = %d events, want 2", len(got))
	}
}

func TestEmitter_BufferEviction(t *testing.T) {
	e := NewEmitter(WithBufferSize(2))

	e.Emit(TypeSessionCreated, "s1", "c", nil)
	e.Emit(TypeSessionCreated, "s2", "c", nil)
	e.Emit(TypeSessionCreated, "s3", "c", nil)

	got := e.BufferSince(time.Time{})
	if len(got) != 2 {
		t.Fatalf("buffer holds %d events, want 2", len(got))
	}
	if got[0].SessionID != "s2" {
		t.Errorf("oldest surviving event = %s, want s2", got[0].SessionID)
	}
}
