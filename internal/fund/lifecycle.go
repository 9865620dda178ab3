package fund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/fee"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/params"
	"github.com/atmx/fund-engine/internal/valuation"
)

func (f *Fund) requireAdmin(caller string) error {
	if caller != f.administrator {
		return fmt.Errorf("%w: %q is not the administrator", ErrUnauthorized, caller)
	}
	return nil
}

// TriggerEmergency moves the fund from Normal to Emergency. The
// administrator may do so at any time; anyone else only once a drawdown or
// leverage mark is reached. Pending fees are committed, fees stop accruing
// and the whole supply is queued on the fund's own redeeming balance.
func (f *Fund) TriggerEmergency(ctx context.Context, caller string) error {
	return f.exec(ctx, "emergency", func(now time.Time) (record, error) {
		if f.st.status != model.StatusNormal {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if caller != f.administrator {
			snap, err := f.reading(ctx, now)
			if err != nil {
				return record{}, err
			}
			if !f.trigger().CanShutdown(riskReading(snap)) {
				return record{}, ErrCannotShutdown
			}
		}

		v, err := f.evaluate(ctx, now)
		switch {
		case errors.Is(err, valuation.ErrNoMarginBalance), errors.Is(err, valuation.ErrFeeExceedsAssets):
			// Nothing left to charge fees on.
			if err := f.st.accrual.Commit(decimal.Zero, decimal.Zero, now); err != nil {
				return record{}, err
			}
		case err != nil:
			return record{}, err
		default:
			if err := f.commitFee(v, decimal.Zero, now); err != nil {
				return record{}, err
			}
		}

		f.st.status = model.StatusEmergency
		f.st.ledger.MoveAllToPool()

		f.logger.Info("fund entered emergency", "caller", caller, "fund_redeeming", f.st.ledger.PoolRedeeming().String())
		return record{
			entry: model.JournalEntry{
				Kind:   model.JournalEmergency,
				Holder: caller,
				Shares: f.st.ledger.PoolRedeeming(),
			},
			navPerShare: v.NAVPerShare,
		}, nil
	})
}

// SetSettlementSlippage sets the slippage conceded by settled-share bids.
func (f *Fund) SetSettlementSlippage(ctx context.Context, caller string, slippage decimal.Decimal) error {
	return f.exec(ctx, "set_settlement_slippage", func(time.Time) (record, error) {
		if err := f.requireAdmin(caller); err != nil {
			return record{}, err
		}
		if !decmath.InUnitRange(slippage) {
			return record{}, auction.ErrSlippageTooLarge
		}
		f.st.settlementSlippage = slippage
		return record{entry: model.JournalEntry{
			Kind:   model.JournalParameterSet,
			Holder: caller,
			Price:  slippage,
			Note:   "settlementSlippage",
		}}, nil
	})
}

// SettlementSlippage returns the slippage conceded by settled-share bids.
func (f *Fund) SettlementSlippage() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.settlementSlippage
}

// SettleMarginAccount collects the fund's margin once the Position Service
// has completed global settlement. It succeeds once.
func (f *Fund) SettleMarginAccount(ctx context.Context) (decimal.Decimal, error) {
	var settled decimal.Decimal
	err := f.exec(ctx, "settle_margin", func(time.Time) (record, error) {
		if f.st.status != model.StatusEmergency {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if f.st.marginSettled {
			return record{}, ErrAlreadySettled
		}
		status, err := f.venue.Status(ctx)
		if err != nil {
			return record{}, external(err)
		}
		if status != model.VenueSettled {
			return record{}, fmt.Errorf("%w: %s", ErrWrongPositionStatus, status)
		}

		amount, err := f.venue.Settle(ctx, f.account)
		if err != nil {
			return record{}, external(err)
		}
		settled = amount
		f.st.custody = f.st.custody.Add(amount)
		f.st.marginSettled = true
		f.st.ledger.ClearPoolRedeeming()

		return record{entry: model.JournalEntry{
			Kind:       model.JournalSettleMargin,
			Holder:     f.account,
			Collateral: amount,
		}}, nil
	})
	return settled, err
}

// Shutdown moves the fund from Emergency to its terminal state. The margin
// account must have been settled, or the position must be flat, in which
// case the margin is withdrawn into custody. Shares still queued on the
// fund's redeeming balance of a flat fund have nothing left to auction and
// are released to settlement.
func (f *Fund) Shutdown(ctx context.Context, caller string) error {
	return f.exec(ctx, "shutdown", func(time.Time) (record, error) {
		if err := f.requireAdmin(caller); err != nil {
			return record{}, err
		}
		if f.st.status != model.StatusEmergency {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}

		collected := decimal.Zero
		if !f.st.marginSettled {
			pos, err := f.venue.Position(ctx, f.account)
			if err != nil {
				return record{}, external(err)
			}
			if !pos.IsFlat() {
				return record{}, fmt.Errorf("%w: position is %s %s with %s shares still redeeming",
					ErrWrongPositionStatus, pos.Side, pos.Size, f.st.ledger.PoolRedeeming())
			}
			f.st.ledger.ClearPoolRedeeming()
			margin := f.scaler.Floor(pos.MarginBalance)
			if margin.IsPositive() {
				if err := f.venue.Withdraw(ctx, f.account, margin); err != nil {
					return record{}, external(err)
				}
				collected = margin
				f.st.custody = f.st.custody.Add(margin)
			}
		}

		f.st.status = model.StatusShutdown
		f.logger.Info("fund shut down", "custody", f.st.custody.String(), "residual", f.residual().String())
		return record{entry: model.JournalEntry{
			Kind:       model.JournalShutdown,
			Holder:     caller,
			Collateral: collected,
		}}, nil
	})
}

// Settle burns shareAmount of holder's shares for their pro-rata part of
// the fund's residual collateral. The last shares take the remainder.
func (f *Fund) Settle(ctx context.Context, holder string, shareAmount decimal.Decimal) (decimal.Decimal, error) {
	var payout decimal.Decimal
	err := f.exec(ctx, "settle", func(time.Time) (record, error) {
		if f.st.status != model.StatusShutdown {
			return record{}, fmt.Errorf("%w: %s", ErrBadState, f.st.status)
		}
		if !shareAmount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		balance := f.st.ledger.Balance(holder)
		if shareAmount.GreaterThan(balance) {
			return record{}, fmt.Errorf("%w: %s holds %s", ErrAmountExceeded, holder, balance)
		}
		residual := f.residual()
		if !residual.IsPositive() {
			return record{}, fmt.Errorf("%w: no collateral left", ErrAmountExceeded)
		}

		supply := f.st.ledger.TotalSupply()
		if shareAmount.Equal(supply) {
			payout = f.scaler.Floor(residual)
		} else {
			payout = f.scaler.Floor(decmath.MulDivFloor(residual, shareAmount, supply))
		}
		if err := f.st.ledger.Burn(holder, shareAmount); err != nil {
			return record{}, err
		}
		f.st.custody = f.st.custody.Sub(payout)
		if payout.IsPositive() {
			if err := f.wallet.Push(ctx, holder, payout); err != nil {
				return record{}, external(err)
			}
		}

		navPerShare := decmath.Div(residual, supply)
		return record{
			entry: model.JournalEntry{
				Kind:       model.JournalSettle,
				Holder:     holder,
				Shares:     shareAmount,
				Collateral: payout,
				Price:      navPerShare,
			},
			navPerShare: navPerShare,
		}, nil
	})
	return payout, err
}

// WithdrawFee pays claimed fees to the manager. caller is the manager or the
// administrator. Fees come from the margin account until the margin has
// been collected, then from custody.
func (f *Fund) WithdrawFee(ctx context.Context, caller string, amount decimal.Decimal) error {
	return f.exec(ctx, "fee_withdraw", func(time.Time) (record, error) {
		manager := f.st.manager
		if caller != manager && caller != f.administrator {
			return record{}, fmt.Errorf("%w: %q may not withdraw fees", ErrUnauthorized, caller)
		}
		if !amount.IsPositive() {
			return record{}, ErrInvalidAmount
		}
		amount = f.scaler.Floor(amount)
		if err := f.st.accrual.Withdraw(amount); err != nil {
			if errors.Is(err, fee.ErrAmountExceeded) {
				return record{}, fmt.Errorf("%w: %w", ErrAmountExceeded, err)
			}
			return record{}, err
		}

		fromMargin := f.st.status != model.StatusShutdown && !f.st.marginSettled
		if fromMargin {
			if err := f.venue.Withdraw(ctx, f.account, amount); err != nil {
				return record{}, external(err)
			}
		} else {
			if amount.GreaterThan(f.st.custody.Sub(f.st.owed())) {
				return record{}, fmt.Errorf("%w: custody holds %s", ErrAmountExceeded, f.st.custody)
			}
			f.st.custody = f.st.custody.Sub(amount)
		}
		if err := f.wallet.Push(ctx, manager, amount); err != nil {
			if fromMargin {
				if derr := f.venue.Deposit(ctx, f.account, amount); derr != nil {
					f.logger.Error("failed to return fee to margin account", "manager", manager, "amount", amount.String(), "err", derr)
				}
			}
			return record{}, external(err)
		}

		return record{entry: model.JournalEntry{
			Kind:         model.JournalFeeWithdraw,
			Holder:       manager,
			Counterparty: caller,
			Collateral:   amount,
			Fee:          amount,
		}}, nil
	})
}

// SetParameter sets one configuration entry. The key is parsed at the
// boundary; raw is validated by the key's typed setter.
func (f *Fund) SetParameter(ctx context.Context, caller string, key params.Key, raw string) error {
	return f.exec(ctx, "parameter_set", func(time.Time) (record, error) {
		if err := f.requireAdmin(caller); err != nil {
			return record{}, err
		}
		next := f.st.params
		if err := next.Set(key, raw); err != nil {
			return record{}, err
		}
		if key == params.KeyStrategy && next.Strategy != "" {
			if _, err := f.strategies.Lookup(next.Strategy); err != nil {
				return record{}, err
			}
		}
		f.st.params = next

		value, _ := next.Get(key)
		return record{entry: model.JournalEntry{
			Kind:   model.JournalParameterSet,
			Holder: caller,
			Note:   string(key) + "=" + value,
		}}, nil
	})
}

// Pause blocks holder and bidder operations until Unpause. caller is the
// administrator or the maintainer.
func (f *Fund) Pause(ctx context.Context, caller string) error {
	return f.setPaused(ctx, caller, true)
}

// Unpause lifts a Pause.
func (f *Fund) Unpause(ctx context.Context, caller string) error {
	return f.setPaused(ctx, caller, false)
}

func (f *Fund) setPaused(ctx context.Context, caller string, paused bool) error {
	op, kind := "unpause", model.JournalUnpause
	if paused {
		op, kind = "pause", model.JournalPause
	}
	return f.exec(ctx, op, func(time.Time) (record, error) {
		if caller != f.administrator && (f.maintainer == "" || caller != f.maintainer) {
			return record{}, fmt.Errorf("%w: %q is not the administrator or maintainer", ErrUnauthorized, caller)
		}
		if f.st.paused == paused {
			return record{}, fmt.Errorf("%w: paused is already %t", ErrBadState, paused)
		}
		f.st.paused = paused
		return record{entry: model.JournalEntry{Kind: kind, Holder: caller}}, nil
	})
}

// SetManager reassigns the account fees are paid to.
func (f *Fund) SetManager(ctx context.Context, caller, manager string) error {
	return f.exec(ctx, "manager_set", func(time.Time) (record, error) {
		if err := f.requireAdmin(caller); err != nil {
			return record{}, err
		}
		if manager == "" {
			return record{}, fmt.Errorf("%w: manager", ErrInvalidAccount)
		}
		previous := f.st.manager
		f.st.manager = manager
		return record{entry: model.JournalEntry{
			Kind:         model.JournalManagerSet,
			Holder:       manager,
			Counterparty: caller,
			Note:         "previous=" + previous,
		}}, nil
	})
}
