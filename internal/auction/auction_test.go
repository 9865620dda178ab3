package auction_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestBiddingPrice(t *testing.T) {
	mark := d(0.005)

	tests := []struct {
		side     model.Side
		slippage float64
		price    float64
		loss     float64
	}{
		{model.SideLong, 0.03, 0.00485, 0.00015},
		{model.SideShort, 0.03, 0.00515, 0.00015},
		{model.SideLong, 1, 0, 0.005},
		{model.SideShort, 1, 0.01, 0.005},
		{model.SideLong, 0, 0.005, 0},
	}
	for _, tt := range tests {
		price, loss, err := auction.BiddingPrice(tt.side, mark, d(tt.slippage))
		if err != nil {
			t.Fatalf("%s/%v: %v", tt.side, tt.slippage, err)
		}
		if !price.Equal(d(tt.price)) || !loss.Equal(d(tt.loss)) {
			t.Errorf("%s/%v: price=%s loss=%s, want %v/%v", tt.side, tt.slippage, price, loss, tt.price, tt.loss)
		}
	}

	if _, _, err := auction.BiddingPrice(model.SideFlat, mark, d(0.01)); !errors.Is(err, auction.ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
}

func TestValidateBiddingPrice(t *testing.T) {
	if err := auction.ValidateBiddingPrice(model.SideLong, d(1000), d(1000)); err != nil {
		t.Errorf("long at price: %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideLong, d(1000), d(1002)); err != nil {
		t.Errorf("long above price: %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideLong, d(1000), d(999)); !errors.Is(err, auction.ErrPriceTooLow) {
		t.Errorf("expected ErrPriceTooLow, got %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideShort, d(1000), d(1000)); err != nil {
		t.Errorf("short at price: %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideShort, d(1000), d(999)); err != nil {
		t.Errorf("short below price: %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideShort, d(1000), d(1001)); !errors.Is(err, auction.ErrPriceTooHigh) {
		t.Errorf("expected ErrPriceTooHigh, got %v", err)
	}
}

func TestPriceBound(t *testing.T) {
	price, _, err := auction.BiddingPrice(model.SideLong, d(0.005), d(0.01))
	if err != nil {
		t.Fatal(err)
	}
	if !price.Equal(d(0.00495)) {
		t.Fatalf("trading price = %s, want 0.00495", price)
	}
	if err := auction.ValidateBiddingPrice(model.SideLong, price, d(0.00495)); err != nil {
		t.Errorf("0.00495 should be accepted: %v", err)
	}
	if err := auction.ValidateBiddingPrice(model.SideLong, price, d(0.00490)); !errors.Is(err, auction.ErrPriceTooLow) {
		t.Errorf("0.00490 should fail with ErrPriceTooLow, got %v", err)
	}
}

func TestSliceSize(t *testing.T) {
	got, err := auction.SliceSize(d(20000), d(2), d(100))
	if err != nil || !got.Equal(d(400)) {
		t.Errorf("slice = %s (%v), want 400", got, err)
	}
	got, _ = auction.SliceSize(d(10), d(1), d(3))
	if !got.Equal(decimal.RequireFromString("3.333333333333333333")) {
		t.Errorf("slice should round down, got %s", got)
	}
	got, _ = auction.SliceSize(d(10), d(3), d(3))
	if !got.Equal(d(10)) {
		t.Errorf("full supply should take the full position, got %s", got)
	}
	if _, err := auction.SliceSize(d(10), d(4), d(3)); !errors.Is(err, auction.ErrAmountExceedsPool) {
		t.Errorf("expected ErrAmountExceedsPool, got %v", err)
	}
}

func shortMarket() auction.Market {
	return auction.Market{
		Position:    model.PositionSnapshot{Side: model.SideShort, Size: d(20000)},
		MarkPrice:   d(0.005),
		TotalSupply: d(100),
	}
}

func TestQuote_ShortWithSlippage(t *testing.T) {
	a := auction.NewAuctioneer()
	fill, err := a.Quote(auction.Bid{
		ShareAmount:   d(2),
		PriceLimit:    d(0.005),
		Side:          model.SideShort,
		SlippageLimit: d(0.05),
	}, shortMarket())
	if err != nil {
		t.Fatal(err)
	}
	if !fill.Slice.Equal(d(400)) {
		t.Errorf("slice = %s, want 400", fill.Slice)
	}
	if !fill.TradingPrice.Equal(d(0.00525)) {
		t.Errorf("trading price = %s, want 0.00525", fill.TradingPrice)
	}
	if !fill.TotalLoss.Equal(d(0.1)) {
		t.Errorf("total loss = %s, want 0.1", fill.TotalLoss)
	}
}

func TestQuote_NoSlippage(t *testing.T) {
	a := auction.NewAuctioneer()
	fill, err := a.Quote(auction.Bid{
		ShareAmount: d(2), PriceLimit: d(0.005), Side: model.SideShort,
	}, shortMarket())
	if err != nil {
		t.Fatal(err)
	}
	if !fill.TotalLoss.IsZero() || !fill.TradingPrice.Equal(d(0.005)) {
		t.Errorf("fill = %+v", fill)
	}
}

func TestQuote_UnexpectedSide(t *testing.T) {
	a := auction.NewAuctioneer()
	_, err := a.Quote(auction.Bid{
		ShareAmount: d(2), PriceLimit: d(0.005), Side: model.SideLong, SlippageLimit: d(0.05),
	}, shortMarket())
	if !errors.Is(err, auction.ErrUnexpectedSide) {
		t.Errorf("expected ErrUnexpectedSide, got %v", err)
	}
}

func TestQuote_SlippageTooLarge(t *testing.T) {
	a := auction.NewAuctioneer()
	// Selling the short back at 0.0055 needs 10% slippage; only 5% allowed.
	_, err := a.Quote(auction.Bid{
		ShareAmount: d(2), PriceLimit: d(0.0055), Side: model.SideShort, SlippageLimit: d(0.05),
	}, shortMarket())
	if !errors.Is(err, auction.ErrSlippageTooLarge) {
		t.Errorf("expected ErrSlippageTooLarge, got %v", err)
	}
}

func TestQuote_FlatFund(t *testing.T) {
	a := auction.NewAuctioneer()
	_, err := a.Quote(auction.Bid{
		ShareAmount: d(1), PriceLimit: d(1), Side: model.SideLong,
	}, auction.Market{MarkPrice: d(1), TotalSupply: d(1)})
	if !errors.Is(err, auction.ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}
