// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"fmt"
	"testing"
	"time"
)

func TestQueue_EnqueueAndDrain(t *testing.T) {
	q := New(Config{})

	q.Enqueue("ctx-1", QueuedMessage{Type: TypePrompted, Content: "first"})
	q.Enqueue("ctx-1", QueuedMessage{Type: TypePrompted, Content: "second"})

	if got := q.Len("ctx-1"); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	drained := q.DrainAll("ctx-1")
	if len(drained) != 2 {
		t.Fatalf("DrainAll = %d messages, want 2", len(drained))
	}
	if drained[0].Content != "first" || drained[1].Content != "second" {
		t.Errorf("drain order = %q, %q; want FIFO", drained[0].Content, drained[1].Content)
	}
	if drained[0].Timestamp.IsZero() {
		t.Error("Enqueue should stamp the timestamp")
	}

	// Drain empties the buffer.
	if got := q.Len("ctx-1"); got != 0 {
		t.Errorf("Len after drain = %d, want 0", got)
	}
	if again := q.DrainAll("ctx-1"); len(again) != 0 {
		t.Errorf("second DrainAll = %d messages, want 0", len(again))
	}
}

func TestQueue_ContextIsolation(t *testing.T) {
	q := New(Config{})
	q.Enqueue("ctx-a", QueuedMessage{Content: "a"})
	q.Enqueue("ctx-b", QueuedMessage{Content: "b"})

	drained := q.DrainAll("ctx-a")
	if len(drained) != 1 || drained[0].Content != "a" {
		t.Fatalf("DrainAll(ctx-a) = %v", drained)
	}
	if got := q.Len("ctx-b"); got != 1 {
		t.Errorf("ctx-b should be untouched, Len = %d", got)
	}
}

func TestQueue_TTLExpiry(t *testing.T) {
	q := New(Config{TTL: 30 * time.Minute})

	current := time.Now().UTC()
	q.now = func() time.Time { return current }

	q.Enqueue("ctx-1", QueuedMessage{Content: "stale"})

	// Advance past the TTL; the entry silently expires.
	current = current.Add(31 * time.Minute)
	q.Enqueue("ctx-1", QueuedMessage{Content: "fresh"})

	drained := q.DrainAll("ctx-1")
	if len(drained) != 1 {
		t.Fatalf("DrainAll = %d messages, want 1 after expiry", len(drained))
	}
	if drained[0].Content != "fresh" {
		t.Errorf("survivor = %q, want fresh", drained[0].Content)
	}
}

func TestQueue_TTLExpiry_OnDrain(t *testing.T) {
	q := New(Config{TTL: 30 * time.Minute})

	current := time.Now().UTC()
	q.now = func() time.Time { return current }

	q.Enqueue("ctx-1", QueuedMessage{Content: "stale"})
	current = current.Add(time.Hour)

	if drained := q.DrainAll("ctx-1"); len(drained) != 0 {
		t.Errorf("DrainAll = %v, want expired entries dropped", drained)
	}
}

func TestQueue_CapDropsOldest(t *testing.T) {
	q := New(Config{MaxPerContext: 2})

	for i := 0; i < 3; i++ {
		q.Enqueue("ctx-1", QueuedMessage{Content: fmt.Sprintf("msg-%d", i)})
	}

	drained := q.DrainAll("ctx-1")
	if len(drained) != 2 {
		t.Fatalf("DrainAll = %d messages, want cap 2", len(drained))
	}
	if drained[0].Content != "msg-1" || drained[1].Content != "msg-2" {
		t.Errorf("cap should drop the oldest, got %q, %q", drained[0].Content, drained[1].Content)
	}
}

func TestQueue_Depth(t *testing.T) {
	q := New(Config{})
	q.Enqueue("ctx-a", QueuedMessage{Content: "1"})
	q.Enqueue("ctx-a", QueuedMessage{Content: "2"})
	q.Enqueue("ctx-b", QueuedMessage{Content: "3"})

	if got := q.Depth(); got != 3 {
		t.Errorf("Depth = %d, want 3", got)
	}
}

func TestQueue_LenUnknownContext(t *testing.T) {
	q := New(Config{})
	if got := q.Len("ghost"); got != 0 {
		t.Errorf("Len of unknown context = %d, want 0", got)
	}
}
