package fund

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/valuation"
)

// PositionService is the margin venue holding the fund's position.
type PositionService interface {
	valuation.PositionReader
	Deposit(ctx context.Context, trader string, amount decimal.Decimal) error
	Withdraw(ctx context.Context, trader string, amount decimal.Decimal) error
	Status(ctx context.Context) (model.VenueStatus, error)
	Settle(ctx context.Context, trader string) (decimal.Decimal, error)
}

// Exchange matches a taker against makers. Fills execute at the maker price.
type Exchange interface {
	MatchOrders(ctx context.Context, taker model.Order, makers []model.Order, amounts []decimal.Decimal) error
}

// Journal records completed operations.
type Journal interface {
	InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error
}

// Publisher fans out events. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, e model.Event)
}

// Clock supplies the time an operation runs at.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type nopJournal struct{}

func (nopJournal) InsertJournalEntry(context.Context, *model.JournalEntry) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Event) {}
