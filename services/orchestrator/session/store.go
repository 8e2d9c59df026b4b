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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout inside BadgerDB. Active records carry a TTL; completed
// records do not. The two index keys hold JSON-encoded id lists.
const (
	activeKeyPrefix    = "relay:session:active:"
	completedKeyPrefix = "relay:session:done:"
	activeIndexKey     = "relay:session:index:active"
	completedIndexKey  = "relay:session:index:done"
)

// Store errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNilDB           = errors.New("db must not be nil")
)

// StoreConfig configures a Store. Zero values use defaults.
type StoreConfig struct {
	// ActiveTTL bounds how long an active record survives without an
	// update. An orphaned session (crashed process) simply expires.
	// Default: 1 hour.
	ActiveTTL time.Duration

	// CompletedRetention caps the completed-index length. Older ids are
	// trimmed from the index; their records stay readable by id until
	// store compaction. Default: 500.
	CompletedRetention int

	// Logger receives swallowed persistence errors. If nil, slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *StoreConfig) ApplyDefaults() {
	if c.ActiveTTL <= 0 {
		c.ActiveTTL = time.Hour
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 500
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store persists session records in BadgerDB.
//
// Session visibility is a best-effort observability feature: read and
// update failures are logged and swallowed rather than surfaced, so a
// store hiccup never blocks the generation path. Finalize is the one
// operation with hard semantics — it runs its read-check-write-delete
// sequence inside a single transaction and is idempotent.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db        *badger.DB
	logger    *slog.Logger
	activeTTL time.Duration
	retention int

	// writeMu serializes mutating transactions. Create and Finalize both
	// read-modify-write the shared index keys; badger's conflict detection
	// aborts overlapping transactions on those keys with ErrConflict, so
	// concurrent sessions on different contexts would otherwise lose
	// records.
	writeMu sync.Mutex
}

// NewStore creates a Store on an open BadgerDB instance.
//
// Inputs:
//
//	db - Open database handle. Must not be nil.
//	cfg - Store configuration. Zero values use defaults.
//
// Outputs:
//
//	*Store - The store.
//	error - ErrNilDB if db is nil.
func NewStore(db *badger.DB, cfg StoreConfig) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	cfg.ApplyDefaults()
	return &Store{
		db:        db,
		logger:    cfg.Logger.With(slog.String("component", "session_store")),
		activeTTL: cfg.ActiveTTL,
		retention: cfg.CompletedRetention,
	}, nil
}

// mutate runs fn inside a write transaction, serialized with every other
// mutating operation on this store. One writer at a time means the shared
// index keys can never trigger a transaction conflict abort.
func (s *Store) mutate(fn func(txn *badger.Txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(fn)
}

// Create writes a new active record with the configured TTL and registers
// its id in the active-set index.
//
// Inputs:
//
//	ctx - Context. A done ctx is ignored here: a session superseded
//	      between single-flight acquisition and its first write must
//	      still leave a durable record for Finalize to resolve.
//	record - The record to persist. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the write fails.
func (s *Store) Create(ctx context.Context, record *Record) error {
	_ = ctx
	if record == nil {
		return errors.New("record must not be nil")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", record.SessionID, err)
	}

	return s.mutate(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(activeKeyPrefix+record.SessionID), payload).
			WithTTL(s.activeTTL)
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("write active record: %w", err)
		}
		return s.indexAdd(txn, activeIndexKey, record.SessionID, 0)
	})
}

// Update performs a read-modify-write merge of partial fields into the
// active record and refreshes its TTL.
//
// Description:
//
//	A missing or unparsable record is treated as "nothing to update": the
//	condition is logged and nil is returned, because session visibility is
//	advisory and must never block the generation path. A patch that would
//	regress the status phase is likewise logged and dropped.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	sessionID - The session to update.
//	patch - Partial fields to merge.
//
// Outputs:
//
//	error - Non-nil only on a write failure or done ctx.
func (s *Store) Update(ctx context.Context, sessionID string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.mutate(func(txn *badger.Txn) error {
		record, err := s.readActive(txn, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				s.logger.Debug("update on missing session, skipping",
					slog.String("session_id", sessionID))
				return nil
			}
			s.logger.Warn("unreadable active record, skipping update",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return nil
		}

		if err := patch.Apply(record); err != nil {
			s.logger.Warn("rejected session patch",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return nil
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", sessionID, err)
		}
		entry := badger.NewEntry([]byte(activeKeyPrefix+sessionID), payload).
			WithTTL(s.activeTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return nil
}

// Finalize moves an active record into the completed store.
//
// Description:
//
//	The sole terminal operation. Inside one transaction it reads the
//	active record, stamps EndTime and Duration, writes the completed
//	record without expiry, appends the id to the completed index (trimmed
//	to the retention cap), and only then removes the active record and
//	its index entry. If the active record no longer exists the call is an
//	idempotent no-op, so a duplicate Finalize cannot produce a second
//	completed record with different accounting.
//
// Inputs:
//
//	ctx - Context. A done ctx is ignored here: finalize must run on
//	      cancellation paths where the execution's ctx is already dead.
//	sessionID - The session to finalize.
//	terminal - Terminal status: completed, cancelled, or error.
//	errDetail - Optional error detail for terminal status "error".
//
// Outputs:
//
//	*CompletedRecord - The written record, or nil if already finalized.
//	error - Non-nil on invalid status or write failure.
func (s *Store) Finalize(ctx context.Context, sessionID string, terminal Status, errDetail string) (*CompletedRecord, error) {
	_ = ctx // finalize must proceed even when the execution context is done
	if !terminal.IsTerminal() {
		return nil, fmt.Errorf("%w: %q is not terminal", ErrInvalidStatus, terminal)
	}

	var completed *CompletedRecord
	err := s.mutate(func(txn *badger.Txn) error {
		record, err := s.readActive(txn, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Already finalized or expired.
				return nil
			}
			return err
		}

		now := time.Now().UTC()
		record.Status = terminal
		completed = &CompletedRecord{
			Record:   *record,
			EndTime:  now,
			Duration: now.Sub(record.StartTime),
			Error:    errDetail,
		}

		payload, err := json.Marshal(completed)
		if err != nil {
			return fmt.Errorf("marshal completed session %s: %w", sessionID, err)
		}
		if err := txn.Set([]byte(completedKeyPrefix+sessionID), payload); err != nil {
			return fmt.Errorf("write completed record: %w", err)
		}
		if err := s.indexAdd(txn, completedIndexKey, sessionID, s.retention); err != nil {
			return err
		}

		if err := txn.Delete([]byte(activeKeyPrefix + sessionID)); err != nil {
			return fmt.Errorf("delete active record: %w", err)
		}
		return s.indexRemove(txn, activeIndexKey, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	return completed, nil
}

// Get returns the active record for a session.
//
// Outputs:
//
//	*Record - The record.
//	error - ErrSessionNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *Record
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := s.readActive(txn, sessionID)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListActive returns all live active records.
//
// Ids present in the index whose records have expired are skipped; the
// index entry itself is left for the next Finalize or expiry sweep.
func (s *Store) ListActive(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := s.readIndex(txn, activeIndexKey)
		if err != nil {
			return err
		}
		for _, id := range ids {
			r, err := s.readActive(txn, id)
			if err != nil {
				continue
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return records, nil
}

// GetCompleted returns the completed record for a session.
//
// Outputs:
//
//	*CompletedRecord - The record.
//	error - ErrSessionNotFound if the session never finalized here.
func (s *Store) GetCompleted(ctx context.Context, sessionID string) (*CompletedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record *CompletedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(completedKeyPrefix + sessionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var cr CompletedRecord
			if err := json.Unmarshal(val, &cr); err != nil {
				return fmt.Errorf("decode completed session %s: %w", sessionID, err)
			}
			record = &cr
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListCompleted returns up to limit completed records, newest first.
func (s *Store) ListCompleted(ctx context.Context, limit int) ([]*CompletedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*CompletedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := s.readIndex(txn, completedIndexKey)
		if err != nil {
			return err
		}
		for i := len(ids) - 1; i >= 0; i-- {
			if limit > 0 && len(records) >= limit {
				break
			}
			item, err := txn.Get([]byte(completedKeyPrefix + ids[i]))
			if err != nil {
				continue
			}
			err = item.Value(func(val []byte) error {
				var cr CompletedRecord
				if err := json.Unmarshal(val, &cr); err != nil {
					return err
				}
				records = append(records, &cr)
				return nil
			})
			if err != nil {
				s.logger.Warn("skipping unreadable completed record",
					slog.String("session_id", ids[i]),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}
	return records, nil
}

// readActive reads and decodes an active record inside a transaction.
func (s *Store) readActive(txn *badger.Txn, sessionID string) (*Record, error) {
	item, err := txn.Get([]byte(activeKeyPrefix + sessionID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var record Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &record, nil
}

// readIndex reads a JSON id list under an index key. Missing key means
// empty index.
func (s *Store) readIndex(txn *badger.Txn, key string) ([]string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ids)
	})
	if err != nil {
		return nil, fmt.Errorf("decode index %s: %w", key, err)
	}
	return ids, nil
}

// indexAdd appends an id to an index list, deduplicating. When maxLen > 0
// the oldest entries are trimmed and their archived records deleted; only
// the completed index sets maxLen.
func (s *Store) indexAdd(txn *badger.Txn, key, id string, maxLen int) error {
	ids, err := s.readIndex(txn, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	if maxLen > 0 && len(ids) > maxLen {
		trimmed := ids[:len(ids)-maxLen]
		ids = ids[len(ids)-maxLen:]
		for _, old := range trimmed {
			if err := txn.Delete([]byte(completedKeyPrefix + old)); err != nil {
				return fmt.Errorf("trim completed record %s: %w", old, err)
			}
		}
	}
	return s.writeIndex(txn, key, ids)
}

// indexRemove deletes an id from an index list.
func (s *Store) indexRemove(txn *badger.Txn, key, id string) error {
	ids, err := s.readIndex(txn, key)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return s.writeIndex(txn, key, out)
}

func (s *Store) writeIndex(txn *badger.Txn, key string, ids []string) error {
	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal index %s: %w", key, err)
	}
	return txn.Set([]byte(key), payload)
}
