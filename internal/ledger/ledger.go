// Package ledger implements the fund's share ledger: a capped, fungible
// balance book that also tracks shares queued for redemption.
//
// The ledger owns no external state and performs no I/O. It is not safe for
// concurrent use; the fund actor serializes every call.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
)

var (
	ErrInvalidAmount            = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance      = errors.New("ledger: insufficient balance")
	ErrExceedsBalance           = errors.New("ledger: redeeming amount exceeds balance")
	ErrInsufficientTransferable = errors.New("ledger: insufficient transferable balance")
	ErrAmountExceeded           = errors.New("ledger: amount exceeds redeeming balance")
	ErrCapacityExceeded         = errors.New("ledger: total supply would exceed capacity")
	ErrSlippageTooLarge         = errors.New("ledger: slippage must be in [0, 1)")
	ErrInvalidCapacity          = errors.New("ledger: capacity must be positive")
	ErrSelfTransfer             = errors.New("ledger: cannot transfer to self")
)

// Ledger holds one ShareBalance per holder plus the pool-owned redeeming
// balance used once the fund stops accepting individual redemptions.
type Ledger struct {
	capacity      decimal.Decimal
	totalSupply   decimal.Decimal
	poolRedeeming decimal.Decimal
	accounts      map[string]*model.ShareBalance
}

// New creates an empty ledger whose total supply may never exceed capacity.
func New(capacity decimal.Decimal) (*Ledger, error) {
	if !capacity.IsPositive() {
		return nil, ErrInvalidCapacity
	}
	return &Ledger{
		capacity: capacity,
		accounts: make(map[string]*model.ShareBalance),
	}, nil
}

// Capacity returns the share cap.
func (l *Ledger) Capacity() decimal.Decimal { return l.capacity }

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() decimal.Decimal { return l.totalSupply }

// PoolRedeeming returns the fund-owned redeeming balance.
func (l *Ledger) PoolRedeeming() decimal.Decimal { return l.poolRedeeming }

// Account returns a copy of the holder's record. Unknown holders get a zero record.
func (l *Ledger) Account(holder string) model.ShareBalance {
	if a, ok := l.accounts[holder]; ok {
		return *a
	}
	return model.ShareBalance{}
}

// Balance returns the holder's share balance.
func (l *Ledger) Balance(holder string) decimal.Decimal {
	return l.Account(holder).Balance
}

// RedeemingBalance returns the holder's queued shares.
func (l *Ledger) RedeemingBalance(holder string) decimal.Decimal {
	return l.Account(holder).RedeemingBalance
}

// RedeemingSlippage returns the holder's slippage preference for auction fills.
func (l *Ledger) RedeemingSlippage(holder string) decimal.Decimal {
	return l.Account(holder).RedeemingSlippage
}

// Holders returns every holder with a non-zero balance, sorted.
func (l *Ledger) Holders() []string {
	holders := make([]string, 0, len(l.accounts))
	for h, a := range l.accounts {
		if a.Balance.IsPositive() {
			holders = append(holders, h)
		}
	}
	sort.Strings(holders)
	return holders
}

func (l *Ledger) account(holder string) *model.ShareBalance {
	a, ok := l.accounts[holder]
	if !ok {
		a = &model.ShareBalance{}
		l.accounts[holder] = a
	}
	return a
}

// Mint credits amount to holder and resets the holder's lock clock to now.
func (l *Ledger) Mint(holder string, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if l.totalSupply.Add(amount).GreaterThan(l.capacity) {
		return fmt.Errorf("%w: supply %s + %s > %s", ErrCapacityExceeded, l.totalSupply, amount, l.capacity)
	}
	a := l.account(holder)
	a.Balance = a.Balance.Add(amount)
	a.LastPurchaseTime = now
	l.totalSupply = l.totalSupply.Add(amount)
	return nil
}

// Burn debits amount from holder. Shares queued for redemption can be burnt;
// the redeeming balance is clipped so it never exceeds the remaining balance.
func (l *Ledger) Burn(holder string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a := l.account(holder)
	if amount.GreaterThan(a.Balance) {
		return fmt.Errorf("%w: %s has %s, burning %s", ErrInsufficientBalance, holder, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	a.RedeemingBalance = decmath.Min(a.RedeemingBalance, a.Balance)
	l.totalSupply = l.totalSupply.Sub(amount)
	return nil
}

// IncreaseRedeeming queues amount of the holder's shares for redemption.
func (l *Ledger) IncreaseRedeeming(holder string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a := l.account(holder)
	if a.RedeemingBalance.Add(amount).GreaterThan(a.Balance) {
		return fmt.Errorf("%w: %s redeeming %s + %s > %s",
			ErrExceedsBalance, holder, a.RedeemingBalance, amount, a.Balance)
	}
	a.RedeemingBalance = a.RedeemingBalance.Add(amount)
	return nil
}

// DecreaseRedeeming removes amount from the holder's queue, either on cancel
// or when an auction fill consumed it.
func (l *Ledger) DecreaseRedeeming(holder string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a := l.account(holder)
	if amount.GreaterThan(a.RedeemingBalance) {
		return fmt.Errorf("%w: %s has %s queued", ErrAmountExceeded, holder, a.RedeemingBalance)
	}
	a.RedeemingBalance = a.RedeemingBalance.Sub(amount)
	return nil
}

// SetRedeemingSlippage stores the holder's auction slippage tolerance.
func (l *Ledger) SetRedeemingSlippage(holder string, slippage decimal.Decimal) error {
	if !decmath.InUnitRange(slippage) {
		return ErrSlippageTooLarge
	}
	l.account(holder).RedeemingSlippage = slippage
	return nil
}

// CanRedeem reports whether the holder's lock period has elapsed at now.
func (l *Ledger) CanRedeem(holder string, now time.Time, lockPeriod time.Duration) bool {
	a := l.Account(holder)
	return !now.Before(a.LastPurchaseTime.Add(lockPeriod))
}

// RedeemableShareBalance is the full balance once the lock has elapsed, else zero.
func (l *Ledger) RedeemableShareBalance(holder string, now time.Time, lockPeriod time.Duration) decimal.Decimal {
	if !l.CanRedeem(holder, now, lockPeriod) {
		return decimal.Zero
	}
	return l.Balance(holder)
}

// Transfer moves shares between holders. Only the part of the sender's
// balance not queued for redemption may move. The receiver's lock clock is
// left untouched.
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	src := l.account(from)
	if amount.GreaterThan(src.Transferable()) {
		return fmt.Errorf("%w: %s can move %s", ErrInsufficientTransferable, from, src.Transferable())
	}
	dst := l.account(to)
	src.Balance = src.Balance.Sub(amount)
	dst.Balance = dst.Balance.Add(amount)
	return nil
}

// MoveAllToPool clears every individual redeeming balance and queues the
// entire supply on the pool's own redeeming balance.
func (l *Ledger) MoveAllToPool() {
	for _, a := range l.accounts {
		a.RedeemingBalance = decimal.Zero
	}
	l.poolRedeeming = l.totalSupply
}

// DecreasePoolRedeeming consumes part of the pool-owned redeeming balance.
func (l *Ledger) DecreasePoolRedeeming(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(l.poolRedeeming) {
		return fmt.Errorf("%w: pool has %s queued", ErrAmountExceeded, l.poolRedeeming)
	}
	l.poolRedeeming = l.poolRedeeming.Sub(amount)
	return nil
}

// ClearPoolRedeeming zeroes the pool-owned redeeming balance.
func (l *Ledger) ClearPoolRedeeming() {
	l.poolRedeeming = decimal.Zero
}

// Clone returns a deep copy, used to roll back a failed operation.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		capacity:      l.capacity,
		totalSupply:   l.totalSupply,
		poolRedeeming: l.poolRedeeming,
		accounts:      make(map[string]*model.ShareBalance, len(l.accounts)),
	}
	for h, a := range l.accounts {
		copy := *a
		c.accounts[h] = &copy
	}
	return c
}

// CheckInvariants verifies Σbalance = totalSupply and 0 <= redeeming <= balance.
func (l *Ledger) CheckInvariants() error {
	sum := decimal.Zero
	for h, a := range l.accounts {
		if a.Balance.IsNegative() || a.RedeemingBalance.IsNegative() {
			return fmt.Errorf("ledger: negative balance for %s", h)
		}
		if a.RedeemingBalance.GreaterThan(a.Balance) {
			return fmt.Errorf("ledger: %s redeeming %s > balance %s", h, a.RedeemingBalance, a.Balance)
		}
		sum = sum.Add(a.Balance)
	}
	if !sum.Equal(l.totalSupply) {
		return fmt.Errorf("ledger: sum of balances %s != total supply %s", sum, l.totalSupply)
	}
	return nil
}
