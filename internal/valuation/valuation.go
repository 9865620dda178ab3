// Package valuation derives the fund's net asset value, NAV per share,
// leverage and drawdown from the Position Service's view of its margin
// account and the fee state.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/fee"
	"github.com/atmx/fund-engine/internal/model"
)

var (
	ErrNoMarginBalance  = errors.New("valuation: no margin balance")
	ErrFeeExceedsAssets = errors.New("valuation: fee exceeds assets")
	ErrNoShareSupplied  = errors.New("valuation: no share supplied")
)

// PositionReader is the read side of the Position Service.
type PositionReader interface {
	MarginBalance(ctx context.Context, account string) (decimal.Decimal, error)
	Position(ctx context.Context, account string) (model.PositionSnapshot, error)
	MarkPrice(ctx context.Context) (decimal.Decimal, error)
}

// Input is the ledger and fee state a valuation is computed against.
type Input struct {
	TotalSupply decimal.Decimal
	Fee         model.FeeState
	Rates       fee.Rates
	Now         time.Time
	// Accrue is false outside Normal: streaming and performance fees stop.
	Accrue bool
}

// Valuation is one consistent reading of the fund.
type Valuation struct {
	TotalAssetValue decimal.Decimal
	PreFeeNAV       decimal.Decimal
	StreamingFee    decimal.Decimal
	PerformanceFee  decimal.Decimal
	NAV             decimal.Decimal
	// NAVPerShare is zero when there is no supply.
	NAVPerShare decimal.Decimal
	Leverage    decimal.Decimal
	Position    model.PositionSnapshot
	MarkPrice   decimal.Decimal
}

// PendingFee is the streaming plus performance fee not yet committed.
func (v Valuation) PendingFee() decimal.Decimal {
	return v.StreamingFee.Add(v.PerformanceFee)
}

// Engine values one fund account.
type Engine struct {
	venue   PositionReader
	account string
	// inversed flips the leverage sign for contracts quoted in the inverse unit.
	inversed bool
}

// NewEngine creates an engine for the given margin account. The leverage
// sign convention is fixed here: long is positive unless inversed is set.
func NewEngine(venue PositionReader, account string, inversed bool) *Engine {
	return &Engine{venue: venue, account: account, inversed: inversed}
}

// Account returns the margin account being valued.
func (e *Engine) Account() string { return e.account }

// Inversed reports the leverage sign convention.
func (e *Engine) Inversed() bool { return e.inversed }

// TotalAssetValue returns the margin balance, failing when it is not positive.
func (e *Engine) TotalAssetValue(ctx context.Context) (decimal.Decimal, error) {
	margin, err := e.venue.MarginBalance(ctx, e.account)
	if err != nil {
		return decimal.Zero, err
	}
	if !margin.IsPositive() {
		return decimal.Zero, ErrNoMarginBalance
	}
	return margin, nil
}

// Evaluate reads the venue once and computes NAV, fee, NAV per share and leverage.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Valuation, error) {
	var v Valuation

	total, err := e.TotalAssetValue(ctx)
	if err != nil {
		return v, err
	}
	pos, err := e.venue.Position(ctx, e.account)
	if err != nil {
		return v, err
	}
	mark, err := e.venue.MarkPrice(ctx)
	if err != nil {
		return v, err
	}

	v.TotalAssetValue = total
	v.Position = pos
	v.Position.MarginBalance = total
	v.MarkPrice = mark
	v.PreFeeNAV = total.Sub(in.Fee.TotalFeeClaimed)
	v.StreamingFee = decimal.Zero
	v.PerformanceFee = decimal.Zero

	if in.Accrue {
		v.StreamingFee, v.PerformanceFee = fee.Pending(in.Fee, v.PreFeeNAV, in.TotalSupply, in.Rates, in.Now)
	}

	v.NAV = v.PreFeeNAV.Sub(v.PendingFee())
	if v.NAV.IsNegative() {
		return v, fmt.Errorf("%w: nav %s", ErrFeeExceedsAssets, v.NAV)
	}
	if in.TotalSupply.IsPositive() {
		v.NAVPerShare = decmath.Div(v.NAV, in.TotalSupply)
	}
	v.Leverage = Leverage(pos, mark, total, e.inversed)
	return v, nil
}

// Leverage returns size*mark/margin, positive for long and negative for
// short, with the sign flipped when inversed. Flat or unfunded accounts
// have zero leverage.
func Leverage(pos model.PositionSnapshot, mark, margin decimal.Decimal, inversed bool) decimal.Decimal {
	if pos.IsFlat() || !margin.IsPositive() {
		return decimal.Zero
	}
	lev := decmath.Div(decmath.Mul(pos.Size, mark), margin)
	if pos.Side == model.SideShort {
		lev = lev.Neg()
	}
	if inversed {
		lev = lev.Neg()
	}
	return lev
}

// Drawdown is the relative fall of navPerShare below the high-water mark,
// floored at zero. A zero high-water mark means no drawdown.
func Drawdown(maxNavPerShare, navPerShare, totalSupply decimal.Decimal) (decimal.Decimal, error) {
	if !totalSupply.IsPositive() {
		return decimal.Zero, ErrNoShareSupplied
	}
	if !maxNavPerShare.IsPositive() || !navPerShare.LessThan(maxNavPerShare) {
		return decimal.Zero, nil
	}
	return decmath.Div(maxNavPerShare.Sub(navPerShare), maxNavPerShare), nil
}
