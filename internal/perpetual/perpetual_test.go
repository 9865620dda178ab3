package perpetual_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/perpetual"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var ctx = context.Background()

func newPerp(t *testing.T, mark float64) *perpetual.Perpetual {
	t.Helper()
	p, err := perpetual.New(d(mark), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func trade(t *testing.T, p *perpetual.Perpetual, buyer, seller string, amount, price float64) {
	t.Helper()
	taker := model.Order{Trader: buyer, Side: model.SideLong, Price: d(price), Amount: d(amount)}
	maker := model.Order{Trader: seller, Side: model.SideShort, Price: d(price), Amount: d(amount)}
	if err := p.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{d(amount)}); err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
}

func margin(t *testing.T, p *perpetual.Perpetual, trader string) decimal.Decimal {
	t.Helper()
	m, _ := p.MarginBalance(ctx, trader)
	return m
}

func TestOpenAndMarkToMarket(t *testing.T) {
	p := newPerp(t, 200)
	p.Deposit(ctx, "fund", d(200))
	p.Deposit(ctx, "mm", d(1000))

	trade(t, p, "fund", "mm", 1, 200)

	pos, _ := p.Position(ctx, "fund")
	if pos.Side != model.SideLong || !pos.Size.Equal(d(1)) || !pos.EntryValue.Equal(d(200)) {
		t.Errorf("fund position = %+v", pos)
	}

	p.SetMarkPrice(d(400))
	if m := margin(t, p, "fund"); !m.Equal(d(400)) {
		t.Errorf("fund margin = %s, want 400", m)
	}
	if m := margin(t, p, "mm"); !m.Equal(d(800)) {
		t.Errorf("mm margin = %s, want 800", m)
	}
}

func TestPartialCloseRealizesPnL(t *testing.T) {
	p := newPerp(t, 0.005)
	p.Deposit(ctx, "fund", d(1000))
	p.Deposit(ctx, "bidder", d(1000))
	p.Deposit(ctx, "mm", d(1000))

	// Fund is short 20000 at 0.005.
	trade(t, p, "mm", "fund", 20000, 0.005)

	// Bidder takes over 400 of the short at 0.00525: the fund buys back.
	trade(t, p, "fund", "bidder", 400, 0.00525)

	pos, _ := p.Position(ctx, "fund")
	if pos.Side != model.SideShort || !pos.Size.Equal(d(19600)) || !pos.EntryValue.Equal(d(98)) {
		t.Errorf("fund position = %+v", pos)
	}
	if m := margin(t, p, "fund"); !m.Equal(d(999.9)) {
		t.Errorf("fund margin = %s, want 999.9", m)
	}
	if m := margin(t, p, "bidder"); !m.Equal(d(1000.1)) {
		t.Errorf("bidder margin = %s, want 1000.1", m)
	}
}

func TestFlipThroughFlat(t *testing.T) {
	p := newPerp(t, 10)
	p.Deposit(ctx, "a", d(100))
	p.Deposit(ctx, "b", d(100))

	trade(t, p, "a", "b", 2, 10)
	trade(t, p, "b", "a", 5, 10)

	pos, _ := p.Position(ctx, "a")
	if pos.Side != model.SideShort || !pos.Size.Equal(d(3)) || !pos.EntryValue.Equal(d(30)) {
		t.Errorf("a position = %+v", pos)
	}
}

func TestMatchOrders_Validation(t *testing.T) {
	p := newPerp(t, 10)
	taker := model.Order{Trader: "a", Side: model.SideLong, Price: d(10), Amount: d(1)}

	sameSide := model.Order{Trader: "b", Side: model.SideLong, Price: d(10), Amount: d(1)}
	if err := p.MatchOrders(ctx, taker, []model.Order{sameSide}, []decimal.Decimal{d(1)}); !errors.Is(err, perpetual.ErrSideMismatch) {
		t.Errorf("expected ErrSideMismatch, got %v", err)
	}

	expensive := model.Order{Trader: "b", Side: model.SideShort, Price: d(11), Amount: d(1)}
	if err := p.MatchOrders(ctx, taker, []model.Order{expensive}, []decimal.Decimal{d(1)}); !errors.Is(err, perpetual.ErrPriceNotMatched) {
		t.Errorf("expected ErrPriceNotMatched, got %v", err)
	}

	maker := model.Order{Trader: "b", Side: model.SideShort, Price: d(10), Amount: d(1)}
	if err := p.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{d(2)}); !errors.Is(err, perpetual.ErrAmountExceeded) {
		t.Errorf("expected ErrAmountExceeded, got %v", err)
	}
}

func TestMatchOrders_MarginCheckRollsBack(t *testing.T) {
	p, _ := perpetual.New(d(10), d(0.1))
	p.Deposit(ctx, "a", d(1))
	p.Deposit(ctx, "b", d(100))

	// 10 units at 10 needs 10 of margin; a has 1.
	taker := model.Order{Trader: "a", Side: model.SideLong, Price: d(10), Amount: d(10)}
	maker := model.Order{Trader: "b", Side: model.SideShort, Price: d(10), Amount: d(10)}
	err := p.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{d(10)})
	if !errors.Is(err, perpetual.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
	for _, trader := range []string{"a", "b"} {
		if pos, _ := p.Position(ctx, trader); !pos.IsFlat() {
			t.Errorf("%s should be flat after rollback, got %+v", trader, pos)
		}
	}
}

func TestWithdraw(t *testing.T) {
	p := newPerp(t, 10)
	p.Deposit(ctx, "a", d(100))

	if err := p.Withdraw(ctx, "a", d(101)); !errors.Is(err, perpetual.ErrInsufficientMargin) {
		t.Errorf("expected ErrInsufficientMargin, got %v", err)
	}
	if err := p.Withdraw(ctx, "a", d(40)); err != nil {
		t.Fatal(err)
	}
	if m := margin(t, p, "a"); !m.Equal(d(60)) {
		t.Errorf("margin = %s, want 60", m)
	}
}

func TestGlobalSettlement(t *testing.T) {
	p := newPerp(t, 10)
	p.Deposit(ctx, "a", d(100))
	p.Deposit(ctx, "b", d(100))
	trade(t, p, "a", "b", 5, 10)

	if _, err := p.Settle(ctx, "a"); !errors.Is(err, perpetual.ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus before settlement, got %v", err)
	}

	if err := p.BeginGlobalSettlement(d(12)); err != nil {
		t.Fatal(err)
	}
	if status, _ := p.Status(ctx); status != model.VenueEmergency {
		t.Errorf("status = %s, want emergency", status)
	}
	if err := p.Deposit(ctx, "a", d(1)); !errors.Is(err, perpetual.ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus during settlement, got %v", err)
	}
	if _, err := p.Settle(ctx, "a"); !errors.Is(err, perpetual.ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus during settlement, got %v", err)
	}

	if err := p.EndGlobalSettlement(); err != nil {
		t.Fatal(err)
	}
	got, err := p.Settle(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d(110)) {
		t.Errorf("settled = %s, want 110", got)
	}
	if m := margin(t, p, "a"); !m.IsZero() {
		t.Errorf("account should be empty after settle, margin = %s", m)
	}
}
