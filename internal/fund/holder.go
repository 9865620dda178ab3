package fund

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/fee"
	"github.com/atmx/fund-engine/internal/ledger"
	"github.com/atmx/fund-engine/internal/model"
)

// PurchaseResult is the outcome of a purchase.
type PurchaseResult struct {
	Shares      decimal.Decimal `json:"shares"`
	NAVPerShare decimal.Decimal `json:"nav_per_share"`
	Paid        decimal.Decimal `json:"paid"`
	EntranceFee decimal.Decimal `json:"entrance_fee"`
}

// Purchase mints shareAmount shares to holder at the current NAV per share,
// or at priceLimit for the first purchase. The holder pays the cost plus
// the entrance fee, at most collateralAmount.
func (f *Fund) Purchase(ctx context.Context, holder string, collateralAmount, shareAmount, priceLimit decimal.Decimal) (PurchaseResult, error) {
	var res PurchaseResult
	err := f.exec(ctx, "purchase", func(now time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !collateralAmount.IsPositive() || !shareAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if !priceLimit.IsPositive() {
			return record{}, ErrInvalidPrice
		}

		navPerShare := priceLimit
		pending := decimal.Zero
		var candidateNAV decimal.Decimal
		if f.st.ledger.TotalSupply().IsPositive() {
			v, err := f.evaluate(ctx, now)
			if err != nil {
				return record{}, err
			}
			navPerShare = v.NAVPerShare
			pending = v.PendingFee()
			candidateNAV = v.NAVPerShare
		} else {
			candidateNAV = priceLimit
		}
		if navPerShare.GreaterThan(priceLimit) {
			return record{}, fmt.Errorf("%w: nav per share %s > limit %s", ErrPriceNotMet, navPerShare, priceLimit)
		}

		rate := f.st.params.EntranceFeeRate
		cost := decmath.Mul(navPerShare, shareAmount)
		payable := f.scaler.Ceil(decmath.Mul(cost, decmath.One.Add(rate)))
		entranceFee := fee.EntranceFee(payable, rate)
		if payable.GreaterThan(collateralAmount) {
			return record{}, fmt.Errorf("%w: need %s, offered %s", ErrInsufficientCollateral, payable, collateralAmount)
		}

		if err := f.st.accrual.Commit(pending.Add(entranceFee), candidateNAV, now); err != nil {
			return record{}, err
		}
		if err := f.st.ledger.Mint(holder, shareAmount, now); err != nil {
			return record{}, err
		}

		if err := f.wallet.Pull(ctx, holder, payable); err != nil {
			return record{}, external(err)
		}
		if err := f.venue.Deposit(ctx, f.account, payable); err != nil {
			if perr := f.wallet.Push(ctx, holder, payable); perr != nil {
				f.logger.Error("failed to refund purchase", "holder", holder, "amount", payable.String(), "err", perr)
			}
			return record{}, external(err)
		}

		res = PurchaseResult{Shares: shareAmount, NAVPerShare: navPerShare, Paid: payable, EntranceFee: entranceFee}
		return record{
			entry: model.JournalEntry{
				Kind:       model.JournalPurchase,
				Holder:     holder,
				Shares:     shareAmount,
				Collateral: payable,
				Price:      navPerShare,
				Fee:        entranceFee,
			},
			navPerShare: navPerShare,
		}, nil
	})
	return res, err
}

// RedeemResult is the outcome of a redemption request.
type RedeemResult struct {
	// Paid is non-zero when the fund was flat and paid out immediately.
	Paid decimal.Decimal `json:"paid"`
	// Queued is the amount left for the redemption auction.
	Queued      decimal.Decimal `json:"queued"`
	NAVPerShare decimal.Decimal `json:"nav_per_share"`
}

// Redeem requests redemption of shareAmount shares, conceding at most
// slippage to the auction bidder. A flat fund pays out at once; otherwise
// the shares are queued until a bidder takes over the position slice.
func (f *Fund) Redeem(ctx context.Context, holder string, shareAmount, slippage decimal.Decimal) (RedeemResult, error) {
	var res RedeemResult
	err := f.exec(ctx, "redeem", func(now time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !shareAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if !decmath.InUnitRange(slippage) {
			return record{}, ledger.ErrSlippageTooLarge
		}
		if !f.st.ledger.CanRedeem(holder, now, f.st.params.RedeemingLockPeriod) {
			return record{}, ErrLockPeriodNotElapsed
		}
		acct := f.st.ledger.Account(holder)
		if shareAmount.GreaterThan(acct.Transferable()) {
			return record{}, fmt.Errorf("%w: %s can redeem %s", ledger.ErrExceedsBalance, holder, acct.Transferable())
		}
		if err := f.st.ledger.SetRedeemingSlippage(holder, slippage); err != nil {
			return record{}, err
		}

		pos, err := f.venue.Position(ctx, f.account)
		if err != nil {
			return record{}, external(err)
		}

		if !pos.IsFlat() {
			if err := f.st.ledger.IncreaseRedeeming(holder, shareAmount); err != nil {
				return record{}, err
			}
			res = RedeemResult{Paid: decimal.Zero, Queued: shareAmount, NAVPerShare: decimal.Zero}
			return record{
				entry: model.JournalEntry{
					Kind:   model.JournalRedeem,
					Holder: holder,
					Shares: shareAmount,
					Note:   "queued",
				},
			}, nil
		}

		v, err := f.evaluate(ctx, now)
		if err != nil {
			return record{}, err
		}
		if err := f.commitFee(v, decimal.Zero, now); err != nil {
			return record{}, err
		}
		paid := f.scaler.Floor(decmath.Mul(v.NAVPerShare, shareAmount))
		if err := f.st.ledger.Burn(holder, shareAmount); err != nil {
			return record{}, err
		}
		if paid.IsPositive() {
			if err := f.venue.Withdraw(ctx, f.account, paid); err != nil {
				return record{}, external(err)
			}
			if err := f.wallet.Push(ctx, holder, paid); err != nil {
				if derr := f.venue.Deposit(ctx, f.account, paid); derr != nil {
					f.logger.Error("failed to return redemption to margin account", "holder", holder, "amount", paid.String(), "err", derr)
				}
				return record{}, external(err)
			}
		}

		res = RedeemResult{Paid: paid, Queued: decimal.Zero, NAVPerShare: v.NAVPerShare}
		return record{
			entry: model.JournalEntry{
				Kind:       model.JournalRedeem,
				Holder:     holder,
				Shares:     shareAmount,
				Collateral: paid,
				Price:      v.NAVPerShare,
				Note:       "paid",
			},
			navPerShare: v.NAVPerShare,
		}, nil
	})
	return res, err
}

// CancelRedeem withdraws amount from the holder's redemption queue.
func (f *Fund) CancelRedeem(ctx context.Context, holder string, amount decimal.Decimal) error {
	return f.exec(ctx, "cancel_redeem", func(time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !amount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		if err := f.st.ledger.DecreaseRedeeming(holder, amount); err != nil {
			return record{}, err
		}
		return record{entry: model.JournalEntry{Kind: model.JournalCancelRedeem, Holder: holder, Shares: amount}}, nil
	})
}

// SetRedeemingSlippage sets the slippage the holder concedes to auction bidders.
func (f *Fund) SetRedeemingSlippage(ctx context.Context, holder string, slippage decimal.Decimal) error {
	return f.exec(ctx, "set_redeeming_slippage", func(time.Time) (record, error) {
		if err := f.st.ledger.SetRedeemingSlippage(holder, slippage); err != nil {
			return record{}, err
		}
		return record{entry: model.JournalEntry{
			Kind:   model.JournalParameterSet,
			Holder: holder,
			Price:  slippage,
			Note:   "redeemingSlippage",
		}}, nil
	})
}

// Transfer moves shares not queued for redemption between holders.
func (f *Fund) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return f.exec(ctx, "transfer", func(time.Time) (record, error) {
		if to == "" {
			return record{}, ErrInvalidAccount
		}
		if err := f.st.ledger.Transfer(from, to, amount); err != nil {
			return record{}, err
		}
		return record{entry: model.JournalEntry{
			Kind:         model.JournalTransfer,
			Holder:       from,
			Counterparty: to,
			Shares:       amount,
		}}, nil
	})
}

// WithdrawCollateral pays out redemption proceeds credited by the auction.
func (f *Fund) WithdrawCollateral(ctx context.Context, holder string, amount decimal.Decimal) error {
	return f.exec(ctx, "withdraw", func(time.Time) (record, error) {
		if !amount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		owed := f.st.withdrawable[holder]
		if amount.GreaterThan(owed) {
			return record{}, fmt.Errorf("%w: %s may withdraw %s", ErrAmountExceeded, holder, owed)
		}
		f.st.withdrawable[holder] = owed.Sub(amount)
		if f.st.withdrawable[holder].IsZero() {
			delete(f.st.withdrawable, holder)
		}
		f.st.custody = f.st.custody.Sub(amount)
		if err := f.wallet.Push(ctx, holder, amount); err != nil {
			return record{}, external(err)
		}
		return record{entry: model.JournalEntry{Kind: model.JournalWithdraw, Holder: holder, Collateral: amount}}, nil
	})
}
