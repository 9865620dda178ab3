// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/fund-engine/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Immutable journal ---

	// InsertJournalEntry appends an immutable fund operation record.
	InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error

	// GetJournalEntries returns the most recent entries, newest first.
	GetJournalEntries(ctx context.Context, limit int) ([]model.JournalEntry, error)

	// GetJournalByHolder returns every entry naming holder, oldest first.
	GetJournalByHolder(ctx context.Context, holder string) ([]model.JournalEntry, error)

	// --- NAV snapshots ---

	// InsertNAVSnapshot records a point-in-time valuation.
	InsertNAVSnapshot(ctx context.Context, snap *model.NAVSnapshot) error

	// LatestNAVSnapshot returns the newest snapshot or ErrNotFound.
	LatestNAVSnapshot(ctx context.Context) (*model.NAVSnapshot, error)

	// RecentNAVSnapshots returns up to limit snapshots, newest first.
	RecentNAVSnapshots(ctx context.Context, limit int) ([]model.NAVSnapshot, error)
}

// DefaultLimit caps list queries that pass a non-positive limit.
const DefaultLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
