// Package state persists per-record sync metadata between passes.
//
// A Store is scoped to one pass: it is loaded in full at the start, mutated
// by a single writer, and committed exactly once at the end.
package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/starford/pagesync/internal/models"
)

// Backend loads and saves the whole record map.
type Backend interface {
	Load(ctx context.Context) (map[string]models.SyncRecord, error)
	Save(ctx context.Context, records map[string]models.SyncRecord) error
	Close() error
}

// Locker is implemented by backends that can hold the cross-process run
// lock themselves. TryLock must not block; a lock held elsewhere yields
// apperr.ErrBusy.
type Locker interface {
	TryLock(ctx context.Context) (release func(), err error)
}

// ErrCommitted is returned by Commit when the store was already persisted.
var ErrCommitted = errors.New("state: already committed")

// Store is the in-memory working copy of the state for one pass.
// It is not safe for concurrent use.
type Store struct {
	backend   Backend
	records   map[string]models.SyncRecord
	committed bool
}

// Load reads the full state from backend.
func Load(ctx context.Context, backend Backend) (*Store, error) {
	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: load: %w", err)
	}
	if records == nil {
		records = make(map[string]models.SyncRecord)
	}
	for id, r := range records {
		r.ItemID = id
		records[id] = r
	}
	return &Store{backend: backend, records: records}, nil
}

// Get returns the record for id.
func (s *Store) Get(id string) (models.SyncRecord, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Put inserts or replaces a record.
func (s *Store) Put(r models.SyncRecord) {
	s.records[r.ItemID] = r
}

// Delete removes the record for id.
func (s *Store) Delete(id string) {
	delete(s.records, id)
}

// IDs returns every known record id, sorted.
func (s *Store) IDs() []string {
	return slices.Sorted(maps.Keys(s.records))
}

// Records returns a copy of the record map.
func (s *Store) Records() map[string]models.SyncRecord {
	return maps.Clone(s.records)
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Commit persists the records. It may only succeed once per Store.
func (s *Store) Commit(ctx context.Context) error {
	if s.committed {
		return ErrCommitted
	}
	if err := s.backend.Save(ctx, s.records); err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	s.committed = true
	return nil
}
