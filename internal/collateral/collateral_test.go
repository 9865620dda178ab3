package collateral_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/collateral"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewScaler_Range(t *testing.T) {
	for _, dec := range []int{-1, 19} {
		if _, err := collateral.NewScaler(dec); !errors.Is(err, collateral.ErrInvalidDecimals) {
			t.Errorf("decimals %d: expected ErrInvalidDecimals, got %v", dec, err)
		}
	}
	for _, dec := range []int{0, 6, 18} {
		if _, err := collateral.NewScaler(dec); err != nil {
			t.Errorf("decimals %d: %v", dec, err)
		}
	}
}

func TestNative_ScalerIsOne(t *testing.T) {
	s := collateral.Native()
	if !s.Factor().Equal(decimal.NewFromInt(1)) {
		t.Errorf("native factor = %s, want 1", s.Factor())
	}
	amount := decimal.RequireFromString("1.000000000000000001")
	if !s.FromNative(s.ToNative(amount)).Equal(amount) {
		t.Error("native round trip should be exact at 18 decimals")
	}
}

func TestScaler_SixDecimals(t *testing.T) {
	s, _ := collateral.NewScaler(6)
	if !s.Factor().Equal(decimal.New(1, 12)) {
		t.Errorf("factor = %s, want 1e12", s.Factor())
	}

	amount := decimal.RequireFromString("1.2345678")
	if got := s.ToNative(amount); !got.Equal(decimal.NewFromInt(1234567)) {
		t.Errorf("ToNative = %s, want 1234567", got)
	}
	if got := s.Ceil(amount); !got.Equal(decimal.RequireFromString("1.234568")) {
		t.Errorf("Ceil = %s", got)
	}
	if got := s.FromNative(decimal.NewFromInt(1500000)); !got.Equal(d(1.5)) {
		t.Errorf("FromNative = %s, want 1.5", got)
	}
}

func TestScaler_ZeroDecimals(t *testing.T) {
	s, _ := collateral.NewScaler(0)
	if got := s.Floor(d(9.99)); !got.Equal(d(9)) {
		t.Errorf("Floor = %s, want 9", got)
	}
}

func TestMemoryWallet_PullPush(t *testing.T) {
	ctx := context.Background()
	w := collateral.NewMemoryWallet(collateral.Native())
	w.Credit("alice", d(100))

	if err := w.Pull(ctx, "alice", d(150)); !errors.Is(err, collateral.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := w.Pull(ctx, "alice", d(60)); err != nil {
		t.Fatal(err)
	}
	if !w.Balance("alice").Equal(d(40)) || !w.NetFlow().Equal(d(60)) {
		t.Errorf("alice=%s netFlow=%s", w.Balance("alice"), w.NetFlow())
	}

	if err := w.Push(ctx, "bob", d(80)); err != nil {
		t.Fatal(err)
	}
	if !w.Balance("bob").Equal(d(80)) || !w.NetFlow().Equal(d(-20)) {
		t.Errorf("bob=%s netFlow=%s", w.Balance("bob"), w.NetFlow())
	}
}

func TestMemoryWallet_PullRoundsUp(t *testing.T) {
	s, _ := collateral.NewScaler(2)
	w := collateral.NewMemoryWallet(s)
	w.Credit("alice", d(1))

	if err := w.Pull(context.Background(), "alice", d(0.101)); err != nil {
		t.Fatal(err)
	}
	if !w.Balance("alice").Equal(d(0.89)) {
		t.Errorf("alice = %s, want 0.89", w.Balance("alice"))
	}
}
