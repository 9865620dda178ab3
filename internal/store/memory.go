package store

import (
	"context"
	"sync"

	"github.com/atmx/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	journal   []model.JournalEntry
	snapshots []model.NAVSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertJournalEntry(_ context.Context, entry *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, *entry)
	return nil
}

func (s *MemoryStore) GetJournalEntries(_ context.Context, limit int) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	result := make([]model.JournalEntry, 0, min(limit, len(s.journal)))
	for i := len(s.journal) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.journal[i])
	}
	return result, nil
}

func (s *MemoryStore) GetJournalByHolder(_ context.Context, holder string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JournalEntry
	for _, e := range s.journal {
		if e.Holder == holder || e.Counterparty == holder {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertNAVSnapshot(_ context.Context, snap *model.NAVSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) LatestNAVSnapshot(_ context.Context) (*model.NAVSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, ErrNotFound
	}
	snap := s.snapshots[len(s.snapshots)-1]
	return &snap, nil
}

func (s *MemoryStore) RecentNAVSnapshots(_ context.Context, limit int) ([]model.NAVSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	result := make([]model.NAVSnapshot, 0, min(limit, len(s.snapshots)))
	for i := len(s.snapshots) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.snapshots[i])
	}
	return result, nil
}
