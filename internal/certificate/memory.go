package certificate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory certificate store used in tests
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

// GetOrCreate returns the existing record for (gsrn, period) or creates rec
func (s *MemoryStore) GetOrCreate(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.GSRN == rec.GSRN && existing.Period.From.Equal(rec.Period.From) && existing.Period.To.Equal(rec.Period.To) {
			return *existing, nil
		}
	}

	rec.State = StateCreating
	rec.CreatedAt = time.Now().UTC()
	stored := rec
	s.records[rec.ID] = &stored
	return stored, nil
}

// MarkIssued transitions the record from creating to issued
func (s *MemoryStore) MarkIssued(_ context.Context, id uuid.UUID) error {
	return s.transition(id, StateIssued, "")
}

// MarkRejected transitions the record from creating to rejected
func (s *MemoryStore) MarkRejected(_ context.Context, id uuid.UUID, reason string) error {
	return s.transition(id, StateRejected, reason)
}

// Get returns the record by id
func (s *MemoryStore) Get(id uuid.UUID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

func (s *MemoryStore) transition(id uuid.UUID, state State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("certificate %s: not found", id)
	}
	if rec.State != StateCreating {
		return fmt.Errorf("certificate %s: %w", id, ErrNotCreating)
	}

	rec.State = state
	rec.RejectionReason = reason
	return nil
}
