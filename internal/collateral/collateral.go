// Package collateral converts between the fund's 18-decimal accounting unit
// and a collateral's native decimals, and defines the port used to move
// collateral between holders and the fund.
package collateral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
)

// MaxDecimals is the accounting scale; collateral cannot be finer than it.
const MaxDecimals = 18

var (
	ErrInvalidDecimals   = errors.New("collateral: decimals must be in [0, 18]")
	ErrInvalidAmount     = errors.New("collateral: amount must be positive")
	ErrInsufficientFunds = errors.New("collateral: insufficient funds")
)

// Scaler maps accounting amounts to native units. Native-asset collateral
// has 18 decimals and a scaler of 1.
type Scaler struct {
	decimals int32
	scaler   decimal.Decimal
}

// NewScaler creates a scaler for a collateral with the given decimals.
func NewScaler(decimals int) (Scaler, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return Scaler{}, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	return Scaler{
		decimals: int32(decimals),
		scaler:   decimal.New(1, int32(MaxDecimals-decimals)),
	}, nil
}

// Native returns the scaler for native-asset collateral.
func Native() Scaler {
	s, _ := NewScaler(MaxDecimals)
	return s
}

// Decimals returns the collateral's native decimals.
func (s Scaler) Decimals() int { return int(s.decimals) }

// Factor is 10^(18 - decimals), the number of accounting units per native unit.
func (s Scaler) Factor() decimal.Decimal { return s.scaler }

// Floor truncates amount to what the collateral can represent.
func (s Scaler) Floor(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundFloor(s.decimals)
}

// Ceil rounds amount up to the next representable value.
func (s Scaler) Ceil(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundCeil(s.decimals)
}

// ToNative converts an accounting amount to integer native units, rounding down.
func (s Scaler) ToNative(amount decimal.Decimal) decimal.Decimal {
	return s.Floor(amount).Shift(s.decimals)
}

// FromNative converts integer native units to an accounting amount.
func (s Scaler) FromNative(raw decimal.Decimal) decimal.Decimal {
	return raw.Truncate(0).Shift(-s.decimals).Truncate(decmath.Scale)
}

// Transferer moves collateral between a holder's wallet and the fund.
// Amounts are in accounting units.
type Transferer interface {
	Pull(ctx context.Context, from string, amount decimal.Decimal) error
	Push(ctx context.Context, to string, amount decimal.Decimal) error
}

// MemoryWallet is an in-memory Transferer holding native-unit balances.
// Used by the development server and tests. The fund side is not a balance:
// collateral pulled is forwarded to the margin account and payouts come back
// from it, so the wallet only records the fund's net inflow.
type MemoryWallet struct {
	mu       sync.Mutex
	scaler   Scaler
	balances map[string]decimal.Decimal
	netFlow  decimal.Decimal
}

// NewMemoryWallet creates an empty wallet for collateral described by scaler.
func NewMemoryWallet(scaler Scaler) *MemoryWallet {
	return &MemoryWallet{
		scaler:   scaler,
		balances: make(map[string]decimal.Decimal),
	}
}

// Credit adds amount (accounting units) to a holder, as a faucet would.
func (w *MemoryWallet) Credit(holder string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[holder] = w.balances[holder].Add(w.scaler.ToNative(amount))
	return nil
}

// Balance returns the holder's balance in accounting units.
func (w *MemoryWallet) Balance(holder string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scaler.FromNative(w.balances[holder])
}

// NetFlow returns collateral pulled minus collateral pushed, in accounting
// units. It goes negative once holders withdraw trading gains.
func (w *MemoryWallet) NetFlow() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scaler.FromNative(w.netFlow)
}

// Pull moves amount from holder to the fund. The amount is rounded up to
// the collateral's precision so the fund never receives less than asked.
func (w *MemoryWallet) Pull(_ context.Context, from string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	raw := w.scaler.Ceil(amount).Shift(w.scaler.decimals)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[from].LessThan(raw) {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}
	w.balances[from] = w.balances[from].Sub(raw)
	w.netFlow = w.netFlow.Add(raw)
	return nil
}

// Push moves amount from the fund to holder, rounded down.
func (w *MemoryWallet) Push(_ context.Context, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	raw := w.scaler.ToNative(amount)
	if raw.IsZero() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.netFlow = w.netFlow.Sub(raw)
	w.balances[to] = w.balances[to].Add(raw)
	return nil
}
