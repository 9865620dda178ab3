// Package auction prices and validates third-party fills that unwind the
// fund's position on behalf of redeeming shares.
//
// A bidder takes over the slice of the fund's position that corresponds to
// the redeeming shares. The fund concedes a slippage against the mark price:
//   - giving up a long, the fund sells at mark * (1 - slippage)
//   - giving up a short, the fund buys at mark * (1 + slippage)
//
// In both cases the price loss per unit is mark * slippage, charged to the
// exiting holder. The bidder keeps it as payment for providing liquidity.
//
// The Auctioneer is stateless: mark price, position and ledger figures are
// passed as arguments, never stored.
package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
)

var (
	ErrInvalidSide       = errors.New("auction: side must be long or short")
	ErrUnexpectedSide    = errors.New("auction: side does not match the fund position")
	ErrSlippageTooLarge  = errors.New("auction: slippage too large")
	ErrPriceTooLow       = errors.New("auction: price too low for long")
	ErrPriceTooHigh      = errors.New("auction: price too high for short")
	ErrInvalidAmount     = errors.New("auction: share amount must be positive")
	ErrInvalidPrice      = errors.New("auction: price must not be negative")
	ErrAmountExceedsPool = errors.New("auction: share amount exceeds total supply")
	ErrNoPosition        = errors.New("auction: fund has no position to bid for")
)

// BiddingPrice returns the trade price and per-unit price loss when the
// fund gives up side at the given slippage.
func BiddingPrice(side model.Side, mark, slippage decimal.Decimal) (price, loss decimal.Decimal, err error) {
	if slippage.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrSlippageTooLarge
	}
	loss = decmath.Mul(mark, slippage)
	switch side {
	case model.SideLong:
		price = mark.Sub(loss)
		if price.IsNegative() {
			return decimal.Zero, decimal.Zero, ErrSlippageTooLarge
		}
	case model.SideShort:
		price = mark.Add(loss)
	default:
		return decimal.Zero, decimal.Zero, ErrInvalidSide
	}
	return price, loss, nil
}

// ValidateBiddingPrice checks a bidder's limit against the bidding price.
// Taking over a long, the bidder buys and must accept at least biddingPrice.
// Taking over a short, the bidder sells and must accept at most biddingPrice.
func ValidateBiddingPrice(side model.Side, biddingPrice, limitPrice decimal.Decimal) error {
	switch side {
	case model.SideLong:
		if limitPrice.LessThan(biddingPrice) {
			return fmt.Errorf("%w: limit %s < %s", ErrPriceTooLow, limitPrice, biddingPrice)
		}
	case model.SideShort:
		if limitPrice.GreaterThan(biddingPrice) {
			return fmt.Errorf("%w: limit %s > %s", ErrPriceTooHigh, limitPrice, biddingPrice)
		}
	default:
		return ErrInvalidSide
	}
	return nil
}

// RequiredSlippage is the slippage the fund would have to concede for a
// fill exactly at limitPrice. It is zero when the limit is at or better
// than the mark.
func RequiredSlippage(side model.Side, mark, limitPrice decimal.Decimal) decimal.Decimal {
	if !mark.IsPositive() {
		return decimal.Zero
	}
	var gap decimal.Decimal
	switch side {
	case model.SideLong:
		gap = mark.Sub(limitPrice)
	case model.SideShort:
		gap = limitPrice.Sub(mark)
	}
	if !gap.IsPositive() {
		return decimal.Zero
	}
	return decmath.Div(gap, mark)
}

// SliceSize is the part of the position matching shareAmount of totalSupply.
// Redeeming the whole supply takes the whole position, so no dust remains.
func SliceSize(positionSize, shareAmount, totalSupply decimal.Decimal) (decimal.Decimal, error) {
	if !shareAmount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if shareAmount.GreaterThan(totalSupply) {
		return decimal.Zero, ErrAmountExceedsPool
	}
	if shareAmount.Equal(totalSupply) {
		return positionSize, nil
	}
	return decmath.MulDivFloor(positionSize, shareAmount, totalSupply), nil
}

// Bid is a bidder's request to take over part of the fund's position.
type Bid struct {
	ShareAmount decimal.Decimal
	PriceLimit  decimal.Decimal
	Side        model.Side
	// SlippageLimit is the most the redeeming party accepts to concede.
	SlippageLimit decimal.Decimal
}

// Market is the state a bid is quoted against.
type Market struct {
	Position    model.PositionSnapshot
	MarkPrice   decimal.Decimal
	TotalSupply decimal.Decimal
}

// Fill is the priced outcome of an accepted bid.
type Fill struct {
	// Side is the fund position being given up.
	Side         model.Side
	Slice        decimal.Decimal
	TradingPrice decimal.Decimal
	// PriceLoss is per unit; TotalLoss = PriceLoss * Slice.
	PriceLoss decimal.Decimal
	TotalLoss decimal.Decimal
}

// Auctioneer quotes bids against the fund's position.
type Auctioneer struct{}

// NewAuctioneer creates an auctioneer.
func NewAuctioneer() *Auctioneer {
	return &Auctioneer{}
}

// Quote validates a bid and prices the fill. Checks run in this order:
// amount, side against the fund's position, slippage tolerance, price limit.
func (a *Auctioneer) Quote(bid Bid, m Market) (Fill, error) {
	if !bid.ShareAmount.IsPositive() {
		return Fill{}, ErrInvalidAmount
	}
	if bid.PriceLimit.IsNegative() {
		return Fill{}, ErrInvalidPrice
	}
	if bid.Side != model.SideLong && bid.Side != model.SideShort {
		return Fill{}, ErrInvalidSide
	}
	if m.Position.IsFlat() {
		return Fill{}, ErrNoPosition
	}
	if bid.Side != m.Position.Side {
		return Fill{}, fmt.Errorf("%w: fund is %s, bid is %s", ErrUnexpectedSide, m.Position.Side, bid.Side)
	}
	if !decmath.InUnitRange(bid.SlippageLimit) {
		return Fill{}, ErrSlippageTooLarge
	}
	if need := RequiredSlippage(bid.Side, m.MarkPrice, bid.PriceLimit); need.GreaterThan(bid.SlippageLimit) {
		return Fill{}, fmt.Errorf("%w: need %s, allowed %s", ErrSlippageTooLarge, need, bid.SlippageLimit)
	}

	price, loss, err := BiddingPrice(bid.Side, m.MarkPrice, bid.SlippageLimit)
	if err != nil {
		return Fill{}, err
	}
	if err := ValidateBiddingPrice(bid.Side, price, bid.PriceLimit); err != nil {
		return Fill{}, err
	}

	slice, err := SliceSize(m.Position.Size, bid.ShareAmount, m.TotalSupply)
	if err != nil {
		return Fill{}, err
	}

	return Fill{
		Side:         bid.Side,
		Slice:        slice,
		TradingPrice: price,
		PriceLoss:    loss,
		TotalLoss:    decmath.Mul(loss, slice),
	}, nil
}
