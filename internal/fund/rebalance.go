package fund

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/strategy"
	"github.com/atmx/fund-engine/internal/valuation"
)

// RebalanceResult is the outcome of a rebalancing trade.
type RebalanceResult struct {
	Side      model.Side      `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	PriceLoss decimal.Decimal `json:"price_loss"`
}

func (f *Fund) target(ctx context.Context, v valuation.Valuation) (strategy.Target, error) {
	if f.st.params.Strategy == "" {
		return strategy.Target{}, ErrNoStrategy
	}
	s, err := f.strategies.Lookup(f.st.params.Strategy)
	if err != nil {
		return strategy.Target{}, err
	}
	t, err := s.ComputeRebalanceTarget(ctx, strategy.FundView{
		NAV:       v.NAV,
		MarkPrice: v.MarkPrice,
		Position:  v.Position,
		Leverage:  v.Leverage,
		Inversed:  f.engine.Inversed(),
		Tolerance: f.st.params.RebalanceTolerance,
	})
	if err != nil {
		return strategy.Target{}, external(err)
	}
	if !t.Side.Valid() {
		return strategy.Target{}, fmt.Errorf("%w: strategy returned %s", ErrInvalidSide, t.Side)
	}
	return t, nil
}

// RebalanceTarget asks the selected strategy what the fund should trade.
func (f *Fund) RebalanceTarget(ctx context.Context) (strategy.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.status != model.StatusNormal {
		return strategy.Target{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
	}
	v, err := f.evaluate(ctx, f.clock.Now())
	if err != nil {
		return strategy.Target{}, err
	}
	return f.target(ctx, v)
}

// Rebalance trades toward the strategy's target with keeper as counterparty.
// side is the fund's direction and must match the target. The fund trades
// at most maxPositionAmount at mark +/- rebalanceSlippage, conceding the
// slippage to the keeper; priceLimit is the keeper's worst price.
func (f *Fund) Rebalance(ctx context.Context, keeper string, maxPositionAmount, priceLimit decimal.Decimal, side model.Side) (RebalanceResult, error) {
	var res RebalanceResult
	err := f.exec(ctx, "rebalance", func(now time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !maxPositionAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if priceLimit.IsNegative() {
			return record{}, ErrInvalidPrice
		}
		if keeper == "" || keeper == f.account {
			return record{}, fmt.Errorf("%w: keeper %q", ErrInvalidAccount, keeper)
		}

		v, err := f.evaluate(ctx, now)
		if err != nil {
			return record{}, err
		}
		t, err := f.target(ctx, v)
		if err != nil {
			return record{}, err
		}
		if !t.NeedRebalance || t.Side == model.SideStay || !t.Amount.IsPositive() {
			return record{}, ErrNoRebalanceNeeded
		}
		if side != t.Side {
			return record{}, fmt.Errorf("%w: target is %s, got %s", ErrUnexpectedSide, t.Side, side)
		}

		amount := decmath.Min(maxPositionAmount, t.Amount)
		// The fund buying is the same trade as giving up a short.
		price, loss, err := auction.BiddingPrice(side.Opposite(), v.MarkPrice, f.st.params.RebalanceSlippage)
		if err != nil {
			return record{}, err
		}
		if err := auction.ValidateBiddingPrice(side.Opposite(), price, priceLimit); err != nil {
			return record{}, err
		}

		if err := f.commitFee(v, decimal.Zero, now); err != nil {
			return record{}, err
		}

		taker := model.Order{Trader: keeper, Side: side.Opposite(), Price: priceLimit, Amount: amount}
		maker := model.Order{Trader: f.account, Side: side, Price: price, Amount: amount}
		if err := f.exchange.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{amount}); err != nil {
			return record{}, external(err)
		}

		res = RebalanceResult{Side: side, Amount: amount, Price: price, PriceLoss: decmath.Mul(loss, amount)}
		return record{
			entry: model.JournalEntry{
				Kind:         model.JournalRebalance,
				Holder:       f.account,
				Counterparty: keeper,
				Shares:       amount,
				Price:        price,
				Fee:          res.PriceLoss,
				Note:         side.String(),
			},
			navPerShare: v.NAVPerShare,
		}, nil
	})
	return res, err
}
