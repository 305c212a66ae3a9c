package window

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory sliding window store used in tests and in
// the orchestration suite.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]time.Time)}
}

// GetCursor returns the cursor for gsrn, creating it at contractStart on first access
func (s *MemoryStore) GetCursor(_ context.Context, gsrn string, contractStart time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor, exists := s.cursors[gsrn]; exists {
		return cursor, nil
	}
	// Contract starts are not guaranteed hour-aligned; the window grid is
	cursor := contractStart.UTC().Truncate(time.Hour)
	s.cursors[gsrn] = cursor
	return cursor, nil
}

// Advance moves the cursor forward; earlier or equal values are a no-op
func (s *MemoryStore) Advance(_ context.Context, gsrn string, newUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newUntil = newUntil.UTC()
	if current, exists := s.cursors[gsrn]; exists && !newUntil.After(current) {
		return nil
	}
	s.cursors[gsrn] = newUntil
	return nil
}

// Cursor returns the current cursor without creating one
func (s *MemoryStore) Cursor(gsrn string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cursor, exists := s.cursors[gsrn]
	return cursor, exists
}
