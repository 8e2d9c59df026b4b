// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	return store
}

func newTestRecord(t *testing.T, contextID string) *Record {
	t.Helper()
	record, err := NewRecord(contextID, PlatformGeneric,
		[]Message{{Role: RoleUser, Content: "do the thing", Timestamp: time.Now().UTC()}},
		nil)
	if err != nil {
		t.Fatalf("NewRecord error = %v", err)
	}
	return record
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")

	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	got, err := store.Get(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got.ContextID != "ctx-1" {
		t.Errorf("ContextID = %s, want ctx-1", got.ContextID)
	}
	if got.Status != StatusInitializing {
		t.Errorf("Status = %s, want initializing", got.Status)
	}
	if len(got.Messages) != 1 {
		t.Errorf("Messages length = %d, want 1", len(got.Messages))
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_Update_MergesPatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	err := store.Update(ctx, record.SessionID, Patch{
		Status:      StatusPtr(StatusPlanning),
		AppendTools: []string{"search"},
	})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	err = store.Update(ctx, record.SessionID, Patch{
		Status:      StatusPtr(StatusGathering),
		AppendTools: []string{"fetch"},
	})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}

	got, err := store.Get(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got.Status != StatusGathering {
		t.Errorf("Status = %s, want gathering", got.Status)
	}
	if len(got.ToolsUsed) != 2 {
		t.Errorf("ToolsUsed = %v, want two entries", got.ToolsUsed)
	}
}

func TestStore_Update_SwallowsRegress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if err := store.Update(ctx, record.SessionID, Patch{Status: StatusPtr(StatusActing)}); err != nil {
		t.Fatalf("Update error = %v", err)
	}

	// A regressing update is dropped, not surfaced.
	if err := store.Update(ctx, record.SessionID, Patch{Status: StatusPtr(StatusGathering)}); err != nil {
		t.Fatalf("regressing Update error = %v, want nil", err)
	}

	got, _ := store.Get(ctx, record.SessionID)
	if got.Status != StatusActing {
		t.Errorf("Status = %s, want acting", got.Status)
	}
}

func TestStore_Update_MissingSessionIsNoop(t *testing.T) {
	store := newTestStore(t)
	err := store.Update(context.Background(), "ghost", Patch{Status: StatusPtr(StatusPlanning)})
	if err != nil {
		t.Errorf("Update of missing session error = %v, want nil", err)
	}
}

func TestStore_Finalize_MovesToCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	completed, err := store.Finalize(ctx, record.SessionID, StatusCompleted, "")
	if err != nil {
		t.Fatalf("Finalize error = %v", err)
	}
	if completed == nil {
		t.Fatal("Finalize returned nil record")
	}
	if completed.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", completed.Status)
	}
	if completed.EndTime.IsZero() || completed.Duration < 0 {
		t.Errorf("EndTime/Duration not stamped: %v / %v", completed.EndTime, completed.Duration)
	}

	// The active record is gone.
	if _, err := store.Get(ctx, record.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after finalize error = %v, want ErrSessionNotFound", err)
	}

	// The archived record is reachable.
	got, err := store.GetCompleted(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("GetCompleted error = %v", err)
	}
	if got.SessionID != record.SessionID {
		t.Errorf("SessionID = %s, want %s", got.SessionID, record.SessionID)
	}
}

func TestStore_Finalize_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	first, err := store.Finalize(ctx, record.SessionID, StatusCancelled, "")
	if err != nil {
		t.Fatalf("first Finalize error = %v", err)
	}
	if first == nil {
		t.Fatal("first Finalize returned nil")
	}

	// Second finalize finds no active record and does nothing.
	second, err := store.Finalize(ctx, record.SessionID, StatusError, "late")
	if err != nil {
		t.Fatalf("second Finalize error = %v", err)
	}
	if second != nil {
		t.Errorf("second Finalize = %+v, want nil", second)
	}

	got, err := store.GetCompleted(ctx, record.SessionID)
	if err != nil {
		t.Fatalf("GetCompleted error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("archived Status = %s, want cancelled from the first finalize", got.Status)
	}
}

func TestStore_Finalize_RejectsNonTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if _, err := store.Finalize(ctx, record.SessionID, StatusActing, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Finalize error = %v, want ErrInvalidStatus", err)
	}
}

func TestStore_Finalize_IgnoresDeadContext(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	dead, cancel := context.WithCancel(context.Background())
	cancel()

	completed, err := store.Finalize(dead, record.SessionID, StatusCancelled, "")
	if err != nil {
		t.Fatalf("Finalize with dead context error = %v", err)
	}
	if completed == nil {
		t.Fatal("Finalize with dead context should still persist")
	}
}

func TestStore_ListActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		record := newTestRecord(t, fmt.Sprintf("ctx-%d", i))
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create error = %v", err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive error = %v", err)
	}
	if len(active) != 3 {
		t.Errorf("ListActive length = %d, want 3", len(active))
	}
}

func TestStore_ListCompleted_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		record := newTestRecord(t, fmt.Sprintf("ctx-%d", i))
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create error = %v", err)
		}
		if _, err := store.Finalize(ctx, record.SessionID, StatusCompleted, ""); err != nil {
			t.Fatalf("Finalize error = %v", err)
		}
		ids = append(ids, record.SessionID)
	}

	completed, err := store.ListCompleted(ctx, 2)
	if err != nil {
		t.Fatalf("ListCompleted error = %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("ListCompleted length = %d, want 2", len(completed))
	}
	if completed[0].SessionID != ids[2] {
		t.Errorf("first entry = %s, want newest %s", completed[0].SessionID, ids[2])
	}
}

func TestStore_CompletedRetention(t *testing.T) {
	db, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, StoreConfig{CompletedRetention: 2})
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		record := newTestRecord(t, fmt.Sprintf("ctx-%d", i))
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create error = %v", err)
		}
		if _, err := store.Finalize(ctx, record.SessionID, StatusCompleted, ""); err != nil {
			t.Fatalf("Finalize error = %v", err)
		}
		ids = append(ids, record.SessionID)
	}

	completed, err := store.ListCompleted(ctx, 10)
	if err != nil {
		t.Fatalf("ListCompleted error = %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("ListCompleted length = %d, want retention cap 2", len(completed))
	}
	for _, c := range completed {
		if c.SessionID == ids[0] {
			t.Error("oldest record should have been trimmed")
		}
	}
}

func TestStore_Finalize_RecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := newTestRecord(t, "ctx-1")
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	completed, err := store.Finalize(ctx, record.SessionID, StatusError, "generation exhausted")
	if err != nil {
		t.Fatalf("Finalize error = %v", err)
	}
	if completed.Error != "generation exhausted" {
		t.Errorf("Error = %q, want detail preserved", completed.Error)
	}
}

func TestStore_Create_IgnoresDeadContext(t *testing.T) {
	store := newTestStore(t)
	record := newTestRecord(t, "ctx-1")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Create(cancelled, record); err != nil {
		t.Fatalf("Create error = %v, want durable record despite dead ctx", err)
	}

	got, err := store.Get(context.Background(), record.SessionID)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got.SessionID != record.SessionID {
		t.Errorf("SessionID = %s, want %s", got.SessionID, record.SessionID)
	}
}

func TestStore_ConcurrentCreate_AcrossContexts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const n = 50

	records := make([]*Record, n)
	for i := range records {
		records[i] = newTestRecord(t, fmt.Sprintf("ctx-%d", i))
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Create(ctx, records[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Create[%d] error = %v", i, err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive error = %v", err)
	}
	if len(active) != n {
		t.Errorf("ListActive length = %d, want %d", len(active), n)
	}
}

func TestStore_ConcurrentFinalize_AcrossContexts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const n = 50

	records := make([]*Record, n)
	for i := range records {
		records[i] = newTestRecord(t, fmt.Sprintf("ctx-%d", i))
		if err := store.Create(ctx, records[i]); err != nil {
			t.Fatalf("Create[%d] error = %v", i, err)
		}
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Finalize(ctx, records[i].SessionID, StatusCompleted, "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Finalize[%d] error = %v", i, err)
		}
	}

	// Every session keeps exactly one completed record and no active one.
	for i, record := range records {
		if _, err := store.GetCompleted(ctx, record.SessionID); err != nil {
			t.Errorf("GetCompleted[%d] error = %v", i, err)
		}
		if _, err := store.Get(ctx, record.SessionID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get[%d] error = %v, want ErrSessionNotFound", i, err)
		}
	}

	completed, err := store.ListCompleted(ctx, 0)
	if err != nil {
		t.Fatalf("ListCompleted error = %v", err)
	}
	if len(completed) != n {
		t.Errorf("ListCompleted length = %d, want %d", len(completed), n)
	}
	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive length = %d, want 0", len(active))
	}
}
