package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error {
	if err := s.primary.InsertJournalEntry(ctx, entry); err != nil {
		return err
	}
	keys := []string{journalKey(entry.Holder)}
	if entry.Counterparty != "" {
		keys = append(keys, journalKey(entry.Counterparty))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) InsertNAVSnapshot(ctx context.Context, snap *model.NAVSnapshot) error {
	if err := s.primary.InsertNAVSnapshot(ctx, snap); err != nil {
		return err
	}
	// The newest snapshot is always the one just written.
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestNAVKey, data, s.ttl)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetJournalByHolder(ctx context.Context, holder string) ([]model.JournalEntry, error) {
	data, err := s.rdb.Get(ctx, journalKey(holder)).Bytes()
	if err == nil {
		var entries []model.JournalEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	// Cache miss.
	entries, err := s.primary.GetJournalByHolder(ctx, holder)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, journalKey(holder), data, s.ttl)
	}
	return entries, nil
}

func (s *CachedStore) LatestNAVSnapshot(ctx context.Context) (*model.NAVSnapshot, error) {
	data, err := s.rdb.Get(ctx, latestNAVKey).Bytes()
	if err == nil {
		var snap model.NAVSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestNAVSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestNAVKey, data, s.ttl)
	}
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetJournalEntries(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	return s.primary.GetJournalEntries(ctx, limit)
}

func (s *CachedStore) RecentNAVSnapshots(ctx context.Context, limit int) ([]model.NAVSnapshot, error) {
	return s.primary.RecentNAVSnapshots(ctx, limit)
}

// --- Cache helpers ---

const latestNAVKey = "fund:nav:latest"

func journalKey(holder string) string { return fmt.Sprintf("fund:journal:%s", holder) }
