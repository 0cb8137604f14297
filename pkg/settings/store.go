package settings

import (
	"context"
	"fmt"
	"sync"
)

// Store is the persistence contract for settings records. PutIfVersion
// writes the record only when the stored version still equals
// expectedVersion; a loss returns ErrVersionConflict. Create initializes a
// fresh record and returns ErrAlreadyExists when racing another creator.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	PutIfVersion(ctx context.Context, rec *Record, expectedVersion int64) error
	Create(ctx context.Context, rec *Record) error
}

// MemoryStore is an in-process Store used in tests and local runs. The
// version check behaves identically to the remote store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) PutIfVersion(_ context.Context, rec *Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.Key]
	if !ok {
		if expectedVersion != 0 {
			return fmt.Errorf("put %s: %w", rec.Key, ErrVersionConflict)
		}
	} else if current.Version != expectedVersion {
		return fmt.Errorf("put %s: %w", rec.Key, ErrVersionConflict)
	}

	s.records[rec.Key] = rec.Clone()
	return nil
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Key]; ok {
		return fmt.Errorf("create %s: %w", rec.Key, ErrAlreadyExists)
	}
	s.records[rec.Key] = rec.Clone()
	return nil
}
