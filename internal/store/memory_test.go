package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestMemoryStore_JournalNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []model.JournalKind{model.JournalPurchase, model.JournalRedeem, model.JournalBid} {
		e := &model.JournalEntry{ID: string(kind), Kind: kind, Holder: "alice", Shares: d(1), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertJournalEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetJournalEntries(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Kind != model.JournalBid || got[1].Kind != model.JournalRedeem {
		t.Errorf("expected bid then redeem, got %s then %s", got[0].Kind, got[1].Kind)
	}

	all, _ := s.GetJournalEntries(ctx, 0)
	if len(all) != 3 {
		t.Errorf("non-positive limit should return everything, got %d", len(all))
	}
}

func TestMemoryStore_JournalByHolderIncludesCounterparty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.InsertJournalEntry(ctx, &model.JournalEntry{ID: "1", Kind: model.JournalPurchase, Holder: "alice"})
	_ = s.InsertJournalEntry(ctx, &model.JournalEntry{ID: "2", Kind: model.JournalBid, Holder: "bob", Counterparty: "alice"})
	_ = s.InsertJournalEntry(ctx, &model.JournalEntry{ID: "3", Kind: model.JournalPurchase, Holder: "bob"})

	got, err := s.GetJournalByHolder(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("unexpected entries for alice: %+v", got)
	}
}

func TestMemoryStore_EntriesAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := &model.JournalEntry{ID: "1", Kind: model.JournalPurchase, Holder: "alice", Shares: d(5)}
	_ = s.InsertJournalEntry(ctx, e)
	e.Shares = d(99)

	got, _ := s.GetJournalByHolder(ctx, "alice")
	if !got[0].Shares.Equal(d(5)) {
		t.Errorf("stored entry mutated through caller pointer: %s", got[0].Shares)
	}
}

func TestMemoryStore_NAVSnapshots(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LatestNAVSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		snap := &model.NAVSnapshot{
			NetAssetValue:         d(float64(100 * i)),
			NetAssetValuePerShare: d(float64(i)),
			TotalSupply:           d(100),
			State:                 "normal",
			At:                    base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertNAVSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestNAVSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !latest.NetAssetValue.Equal(d(300)) {
		t.Errorf("expected latest NAV 300, got %s", latest.NetAssetValue)
	}

	recent, _ := s.RecentNAVSnapshots(ctx, 2)
	if len(recent) != 2 || !recent[1].NetAssetValuePerShare.Equal(d(2)) {
		t.Errorf("unexpected recent snapshots: %+v", recent)
	}
}
