package strategy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/strategy"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var ctx = context.Background()

func TestLeverageStrategy_OpenFromFlat(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	got, err := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(200),
		MarkPrice: d(200),
		Position:  model.PositionSnapshot{Side: model.SideFlat, Size: decimal.Zero},
		Leverage:  decimal.Zero,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.NeedRebalance || got.Side != model.SideLong || !got.Amount.Equal(d(1)) {
		t.Errorf("target = %+v, want long 1", got)
	}
}

func TestLeverageStrategy_ShortTarget(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(-2)))
	got, err := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(100),
		MarkPrice: d(10),
		Position:  model.PositionSnapshot{Side: model.SideShort, Size: d(5)},
		Leverage:  d(-0.5),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Target -20, current -5: sell 15 more.
	if !got.NeedRebalance || got.Side != model.SideShort || !got.Amount.Equal(d(15)) {
		t.Errorf("target = %+v, want short 15", got)
	}
}

func TestLeverageStrategy_ReduceLong(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	got, _ := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(100),
		MarkPrice: d(10),
		Position:  model.PositionSnapshot{Side: model.SideLong, Size: d(30)},
		Leverage:  d(3),
	})
	if !got.NeedRebalance || got.Side != model.SideShort || !got.Amount.Equal(d(20)) {
		t.Errorf("target = %+v, want short 20", got)
	}
}

func TestLeverageStrategy_Inversed(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	got, _ := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(100),
		MarkPrice: d(10),
		Position:  model.PositionSnapshot{Side: model.SideFlat},
		Inversed:  true,
	})
	if got.Side != model.SideShort || !got.Amount.Equal(d(10)) {
		t.Errorf("target = %+v, want short 10", got)
	}
}

func TestLeverageStrategy_WithinTolerance(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	got, err := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(100),
		MarkPrice: d(10),
		Position:  model.PositionSnapshot{Side: model.SideLong, Size: d(10.5)},
		Leverage:  d(1.05),
		Tolerance: d(0.1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.NeedRebalance || got.Side != model.SideStay {
		t.Errorf("target = %+v, want stay", got)
	}
}

func TestLeverageStrategy_AtTarget(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	got, _ := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       d(100),
		MarkPrice: d(10),
		Position:  model.PositionSnapshot{Side: model.SideLong, Size: d(10)},
		Leverage:  d(1),
	})
	if got.NeedRebalance {
		t.Errorf("target = %+v, want no rebalance", got)
	}
}

func TestLeverageStrategy_NoMarkPrice(t *testing.T) {
	s := strategy.NewLeverageStrategy("static", strategy.NewStaticSignal(d(1)))
	if _, err := s.ComputeRebalanceTarget(ctx, strategy.FundView{NAV: d(1)}); !errors.Is(err, strategy.ErrNoMarkPrice) {
		t.Errorf("expected ErrNoMarkPrice, got %v", err)
	}
}

func TestStaticSignal_Set(t *testing.T) {
	sig := strategy.NewStaticSignal(d(1))
	sig.Set(d(-3))
	got, _ := sig.NextTargetLeverage(ctx)
	if !got.Equal(d(-3)) {
		t.Errorf("leverage = %s, want -3", got)
	}
}

func TestRegistry(t *testing.T) {
	a := strategy.NewLeverageStrategy("alpha", strategy.NewStaticSignal(d(1)))
	b := strategy.NewLeverageStrategy("beta", strategy.NewStaticSignal(d(2)))
	r, err := strategy.NewRegistry(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v", names)
	}
	if got, err := r.Lookup("beta"); err != nil || got != b {
		t.Errorf("Lookup(beta) = %v, %v", got, err)
	}
	if _, err := r.Lookup("gamma"); !errors.Is(err, strategy.ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
	if _, err := strategy.NewRegistry(a, a); !errors.Is(err, strategy.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}
