// Package perpetual is an in-memory linear perpetual contract: margin
// accounts, a settable mark price, order matching and global settlement.
// It plays the Position Service and the Exchange for the development server
// and tests.
package perpetual

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
)

var (
	ErrInvalidAmount      = errors.New("perpetual: amount must be positive")
	ErrInvalidPrice       = errors.New("perpetual: price must be positive")
	ErrWrongStatus        = errors.New("perpetual: wrong perpetual status")
	ErrInsufficientMargin = errors.New("perpetual: insufficient margin")
	ErrSideMismatch       = errors.New("perpetual: orders must be on opposite sides")
	ErrPriceNotMatched    = errors.New("perpetual: maker price outside taker limit")
	ErrAmountExceeded     = errors.New("perpetual: amount exceeds order")
	ErrSelfTrade          = errors.New("perpetual: self trade")
	ErrLengthMismatch     = errors.New("perpetual: makers and amounts differ in length")
)

type account struct {
	cash       decimal.Decimal
	side       model.Side
	size       decimal.Decimal
	entryValue decimal.Decimal
}

// Perpetual is safe for concurrent use.
type Perpetual struct {
	mu                sync.Mutex
	mark              decimal.Decimal
	status            model.VenueStatus
	initialMarginRate decimal.Decimal
	accounts          map[string]*account
}

// New creates a perpetual with the given mark price. initialMarginRate is
// the margin a trader must keep against notional after a trade or
// withdrawal; zero disables the check.
func New(mark, initialMarginRate decimal.Decimal) (*Perpetual, error) {
	if !mark.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if initialMarginRate.IsNegative() {
		return nil, fmt.Errorf("perpetual: negative initial margin rate %s", initialMarginRate)
	}
	return &Perpetual{
		mark:              mark,
		initialMarginRate: initialMarginRate,
		accounts:          make(map[string]*account),
	}, nil
}

func (p *Perpetual) acct(trader string) *account {
	a, ok := p.accounts[trader]
	if !ok {
		a = &account{}
		p.accounts[trader] = a
	}
	return a
}

func (a *account) pnl(mark decimal.Decimal) decimal.Decimal {
	value := decmath.Mul(a.size, mark)
	switch a.side {
	case model.SideLong:
		return value.Sub(a.entryValue)
	case model.SideShort:
		return a.entryValue.Sub(value)
	}
	return decimal.Zero
}

func (a *account) marginBalance(mark decimal.Decimal) decimal.Decimal {
	return a.cash.Add(a.pnl(mark))
}

func (p *Perpetual) requiredMargin(a *account) decimal.Decimal {
	return decmath.Mul(decmath.Mul(a.size, p.mark), p.initialMarginRate)
}

func (p *Perpetual) isSafe(a *account) bool {
	return a.marginBalance(p.mark).GreaterThanOrEqual(p.requiredMargin(a))
}

// MarkPrice returns the current mark price.
func (p *Perpetual) MarkPrice(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mark, nil
}

// SetMarkPrice moves the mark. Not allowed once global settlement started.
func (p *Perpetual) SetMarkPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueNormal {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	p.mark = price
	return nil
}

// Status returns the venue's lifecycle status.
func (p *Perpetual) Status(context.Context) (model.VenueStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

// BeginGlobalSettlement freezes trading at the settlement price.
func (p *Perpetual) BeginGlobalSettlement(price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == model.VenueSettled {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	p.status = model.VenueEmergency
	p.mark = price
	return nil
}

// EndGlobalSettlement completes settlement; accounts may now Settle.
func (p *Perpetual) EndGlobalSettlement() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueEmergency {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	p.status = model.VenueSettled
	return nil
}

// Deposit adds cash to trader's margin account.
func (p *Perpetual) Deposit(_ context.Context, trader string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueNormal {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	a := p.acct(trader)
	a.cash = a.cash.Add(amount)
	return nil
}

// Withdraw removes cash, keeping the account at or above initial margin.
func (p *Perpetual) Withdraw(_ context.Context, trader string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueNormal {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	a := p.acct(trader)
	a.cash = a.cash.Sub(amount)
	if a.marginBalance(p.mark).IsNegative() || !p.isSafe(a) {
		a.cash = a.cash.Add(amount)
		return fmt.Errorf("%w: %s withdrawing %s", ErrInsufficientMargin, trader, amount)
	}
	return nil
}

// MarginBalance is cash plus unrealized PnL at the mark.
func (p *Perpetual) MarginBalance(_ context.Context, trader string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acct(trader).marginBalance(p.mark), nil
}

// Position returns the trader's position with its margin balance.
func (p *Perpetual) Position(_ context.Context, trader string) (model.PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.acct(trader)
	return model.PositionSnapshot{
		Side:          a.side,
		Size:          a.size,
		EntryValue:    a.entryValue,
		MarginBalance: a.marginBalance(p.mark),
	}, nil
}

// Settle pays out a trader's margin balance after global settlement and
// closes the account. A negative balance pays nothing.
func (p *Perpetual) Settle(_ context.Context, trader string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueSettled {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}
	a := p.acct(trader)
	amount := decmath.Max(a.marginBalance(p.mark), decimal.Zero)
	*a = account{}
	return amount, nil
}

// MatchOrders fills taker against each maker at the maker's price. The
// whole batch is applied or nothing is.
func (p *Perpetual) MatchOrders(_ context.Context, taker model.Order, makers []model.Order, amounts []decimal.Decimal) error {
	if len(makers) != len(amounts) {
		return ErrLengthMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != model.VenueNormal {
		return fmt.Errorf("%w: %s", ErrWrongStatus, p.status)
	}

	total := decimal.Zero
	for i, maker := range makers {
		amount := amounts[i]
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
		if !maker.Price.IsPositive() {
			return ErrInvalidPrice
		}
		if maker.Trader == taker.Trader {
			return ErrSelfTrade
		}
		if maker.Side == model.SideFlat || maker.Side != taker.Side.Opposite() {
			return fmt.Errorf("%w: taker %s, maker %s", ErrSideMismatch, taker.Side, maker.Side)
		}
		if taker.Side == model.SideLong && maker.Price.GreaterThan(taker.Price) ||
			taker.Side == model.SideShort && maker.Price.LessThan(taker.Price) {
			return fmt.Errorf("%w: maker %s, taker %s", ErrPriceNotMatched, maker.Price, taker.Price)
		}
		if amount.GreaterThan(maker.Amount) {
			return fmt.Errorf("%w: maker %s", ErrAmountExceeded, maker.Trader)
		}
		total = total.Add(amount)
	}
	if total.GreaterThan(taker.Amount) {
		return fmt.Errorf("%w: taker %s", ErrAmountExceeded, taker.Trader)
	}

	backup := make(map[string]account)
	save := func(trader string) {
		if _, ok := backup[trader]; !ok {
			backup[trader] = *p.acct(trader)
		}
	}
	save(taker.Trader)
	for _, m := range makers {
		save(m.Trader)
	}

	for i, maker := range makers {
		p.apply(p.acct(taker.Trader), taker.Side, amounts[i], maker.Price)
		p.apply(p.acct(maker.Trader), maker.Side, amounts[i], maker.Price)
	}

	for trader := range backup {
		if !p.isSafe(p.acct(trader)) {
			for t, a := range backup {
				restored := a
				p.accounts[t] = &restored
			}
			return fmt.Errorf("%w: %s", ErrInsufficientMargin, trader)
		}
	}
	return nil
}

// apply trades amount at price on a in direction side: it first closes any
// opposite position, realizing PnL into cash, then opens the remainder.
func (p *Perpetual) apply(a *account, side model.Side, amount, price decimal.Decimal) {
	if a.side != model.SideFlat && a.side != side {
		closing := decmath.Min(amount, a.size)
		entryPart := a.entryValue
		if closing.LessThan(a.size) {
			entryPart = decmath.MulDivFloor(a.entryValue, closing, a.size)
		}
		exitValue := decmath.Mul(closing, price)
		if a.side == model.SideLong {
			a.cash = a.cash.Add(exitValue.Sub(entryPart))
		} else {
			a.cash = a.cash.Add(entryPart.Sub(exitValue))
		}
		a.size = a.size.Sub(closing)
		a.entryValue = a.entryValue.Sub(entryPart)
		if a.size.IsZero() {
			a.side = model.SideFlat
			a.entryValue = decimal.Zero
		}
		amount = amount.Sub(closing)
	}
	if amount.IsPositive() {
		a.side = side
		a.size = a.size.Add(amount)
		a.entryValue = a.entryValue.Add(decmath.Mul(amount, price))
	}
}
