package fund

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
)

// BidResult is the outcome of an accepted auction bid.
type BidResult struct {
	Side         model.Side      `json:"side"`
	Slice        decimal.Decimal `json:"slice"`
	TradingPrice decimal.Decimal `json:"trading_price"`
	PriceLoss    decimal.Decimal `json:"price_loss"`
	// Proceeds is credited to the redeeming holder; zero for settled shares.
	Proceeds    decimal.Decimal `json:"proceeds"`
	NAVPerShare decimal.Decimal `json:"nav_per_share"`
}

// executeFill trades the fill's slice from the fund to bidder. Giving up a
// long, the fund sells to the bidder; giving up a short, it buys back.
// The fund's order is the maker so the fill executes at the bidding price.
func (f *Fund) executeFill(ctx context.Context, bidder string, fill auction.Fill, priceLimit decimal.Decimal) error {
	if !fill.Slice.IsPositive() {
		return nil
	}
	taker := model.Order{Trader: bidder, Side: fill.Side, Price: priceLimit, Amount: fill.Slice}
	maker := model.Order{Trader: f.account, Side: fill.Side.Opposite(), Price: fill.TradingPrice, Amount: fill.Slice}
	if err := f.exchange.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{fill.Slice}); err != nil {
		return external(err)
	}
	return nil
}

// reverseFill trades a fill's slice back from bidder to the fund at the same
// price, restoring both margin balances at the mark.
func (f *Fund) reverseFill(ctx context.Context, bidder string, fill auction.Fill) error {
	if !fill.Slice.IsPositive() {
		return nil
	}
	taker := model.Order{Trader: bidder, Side: fill.Side.Opposite(), Price: fill.TradingPrice, Amount: fill.Slice}
	maker := model.Order{Trader: f.account, Side: fill.Side, Price: fill.TradingPrice, Amount: fill.Slice}
	return f.exchange.MatchOrders(ctx, taker, []model.Order{maker}, []decimal.Decimal{fill.Slice})
}

// BidRedeemingShare lets bidder take over the position slice behind
// shareAmount of holder's redeeming shares. side is the fund position being
// given up and must match it. The holder's proceeds, NAV less the price
// loss conceded at the holder's slippage, become withdrawable collateral.
func (f *Fund) BidRedeemingShare(ctx context.Context, bidder, holder string, shareAmount, priceLimit decimal.Decimal, side model.Side) (BidResult, error) {
	var res BidResult
	err := f.exec(ctx, "bid", func(now time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !shareAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if bidder == holder || bidder == f.account {
			return record{}, fmt.Errorf("%w: bidder %q", ErrInvalidAccount, bidder)
		}
		redeeming := f.st.ledger.RedeemingBalance(holder)
		if shareAmount.GreaterThan(redeeming) {
			return record{}, fmt.Errorf("%w: %s has %s redeeming", ErrAmountExceeded, holder, redeeming)
		}

		v, err := f.evaluate(ctx, now)
		if err != nil {
			return record{}, err
		}
		fill, err := f.auctioneer.Quote(auction.Bid{
			ShareAmount:   shareAmount,
			PriceLimit:    priceLimit,
			Side:          side,
			SlippageLimit: f.st.ledger.RedeemingSlippage(holder),
		}, auction.Market{
			Position:    v.Position,
			MarkPrice:   v.MarkPrice,
			TotalSupply: f.st.ledger.TotalSupply(),
		})
		if err != nil {
			return record{}, err
		}

		proceeds := f.scaler.Floor(decmath.Mul(v.NAVPerShare, shareAmount).Sub(fill.TotalLoss))
		if proceeds.IsNegative() {
			return record{}, fmt.Errorf("%w: loss %s", ErrNegativeProceeds, fill.TotalLoss)
		}

		if err := f.commitFee(v, decimal.Zero, now); err != nil {
			return record{}, err
		}
		if err := f.st.ledger.DecreaseRedeeming(holder, shareAmount); err != nil {
			return record{}, err
		}
		if err := f.st.ledger.Burn(holder, shareAmount); err != nil {
			return record{}, err
		}
		if proceeds.IsPositive() {
			f.st.withdrawable[holder] = f.st.withdrawable[holder].Add(proceeds)
			f.st.custody = f.st.custody.Add(proceeds)
		}

		if err := f.executeFill(ctx, bidder, fill, priceLimit); err != nil {
			return record{}, err
		}
		if proceeds.IsPositive() {
			if err := f.venue.Withdraw(ctx, f.account, proceeds); err != nil {
				if rerr := f.reverseFill(ctx, bidder, fill); rerr != nil {
					f.logger.Error("auction filled but proceeds not withdrawn and fill not reversed",
						"holder", holder, "bidder", bidder, "err", err, "reverse_err", rerr)
				}
				return record{}, external(err)
			}
		}

		metrics.AuctionFills.WithLabelValues("redeeming").Inc()
		metrics.AuctionPriceLoss.WithLabelValues("redeeming").Add(fill.TotalLoss.InexactFloat64())

		res = BidResult{
			Side:         fill.Side,
			Slice:        fill.Slice,
			TradingPrice: fill.TradingPrice,
			PriceLoss:    fill.TotalLoss,
			Proceeds:     proceeds,
			NAVPerShare:  v.NAVPerShare,
		}
		return record{
			entry: model.JournalEntry{
				Kind:         model.JournalBid,
				Holder:       holder,
				Counterparty: bidder,
				Shares:       shareAmount,
				Collateral:   proceeds,
				Price:        fill.TradingPrice,
				Fee:          fill.TotalLoss,
			},
			navPerShare: v.NAVPerShare,
		}, nil
	})
	return res, err
}

// BidSettledShare is the Emergency-state auction against the fund's own
// redeeming balance. The slice is taken in proportion to the shares still
// queued, so the last bid closes whatever position remains. Collateral stays
// in the fund for holders to settle after shutdown.
func (f *Fund) BidSettledShare(ctx context.Context, bidder string, shareAmount, priceLimit decimal.Decimal, side model.Side) (BidResult, error) {
	var res BidResult
	err := f.exec(ctx, "bid_settled", func(now time.Time) (record, error) {
		if f.st.status != model.StatusEmergency {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !shareAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if bidder == f.account {
			return record{}, fmt.Errorf("%w: bidder %q", ErrInvalidAccount, bidder)
		}
		pool := f.st.ledger.PoolRedeeming()
		if shareAmount.GreaterThan(pool) {
			return record{}, fmt.Errorf("%w: fund has %s redeeming", ErrAmountExceeded, pool)
		}
		status, err := f.venue.Status(ctx)
		if err != nil {
			return record{}, external(err)
		}
		if status != model.VenueNormal {
			return record{}, fmt.Errorf("%w: %s", ErrPositionServiceEmergency, status)
		}

		v, err := f.evaluate(ctx, now)
		if err != nil {
			return record{}, err
		}
		fill, err := f.auctioneer.Quote(auction.Bid{
			ShareAmount:   shareAmount,
			PriceLimit:    priceLimit,
			Side:          side,
			SlippageLimit: f.st.settlementSlippage,
		}, auction.Market{
			Position:    v.Position,
			MarkPrice:   v.MarkPrice,
			TotalSupply: pool,
		})
		if err != nil {
			return record{}, err
		}

		if err := f.st.ledger.DecreasePoolRedeeming(shareAmount); err != nil {
			return record{}, fmt.Errorf("%w: %w", ErrAmountExceeded, err)
		}
		if err := f.executeFill(ctx, bidder, fill, priceLimit); err != nil {
			return record{}, err
		}

		metrics.AuctionFills.WithLabelValues("settled").Inc()
		metrics.AuctionPriceLoss.WithLabelValues("settled").Add(fill.TotalLoss.InexactFloat64())

		res = BidResult{
			Side:         fill.Side,
			Slice:        fill.Slice,
			TradingPrice: fill.TradingPrice,
			PriceLoss:    fill.TotalLoss,
			Proceeds:     decimal.Zero,
			NAVPerShare:  v.NAVPerShare,
		}
		return record{
			entry: model.JournalEntry{
				Kind:         model.JournalBidSettled,
				Holder:       f.account,
				Counterparty: bidder,
				Shares:       shareAmount,
				Price:        fill.TradingPrice,
				Fee:          fill.TotalLoss,
			},
			navPerShare: v.NAVPerShare,
		}, nil
	})
	return res, err
}
