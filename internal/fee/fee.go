// Package fee implements the fund's fee accrual: an inclusive entrance fee
// on purchases, a time-prorated streaming fee and a high-water-mark
// performance fee.
//
// The fee functions are pure. Accrual carries the only mutable state, the
// FeeState, and is advanced by Commit exactly once per NAV-affecting
// operation.
package fee

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
)

// SecondsPerYear is the streaming fee's annualization base (365 days).
const SecondsPerYear = 365 * 86400

var (
	ErrInvalidFee     = errors.New("fee: fee must not be negative")
	ErrAmountExceeded = errors.New("fee: amount exceeds claimed fee")
	ErrClockRewind    = errors.New("fee: commit time precedes last fee time")
)

var secondsPerYear = decimal.NewFromInt(SecondsPerYear)

// Rates are the three fee rates, each a fraction in [0, 1).
type Rates struct {
	Entrance    decimal.Decimal `json:"entrance_fee_rate"`
	Streaming   decimal.Decimal `json:"streaming_fee_rate"`
	Performance decimal.Decimal `json:"performance_fee_rate"`
}

// EntranceFee returns the fee contained in paid: paid - paid/(1+rate).
func EntranceFee(paid, rate decimal.Decimal) decimal.Decimal {
	if !paid.IsPositive() || !rate.IsPositive() {
		return decimal.Zero
	}
	net := decmath.Div(paid, decmath.One.Add(rate))
	return paid.Sub(net)
}

// StreamingFee returns nav * rate * elapsed / SecondsPerYear. Elapsed is
// measured in whole seconds; a non-positive interval yields no fee.
func StreamingFee(nav, rate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	secs := int64(elapsed / time.Second)
	if secs <= 0 || !nav.IsPositive() || !rate.IsPositive() {
		return decimal.Zero
	}
	return nav.Mul(rate).Mul(decimal.NewFromInt(secs)).DivRound(secondsPerYear, decmath.Scale)
}

// PerformanceFee charges rate on the NAV above the high-water mark.
// It is zero when nav/totalSupply does not exceed maxNavPerShare.
func PerformanceFee(nav, totalSupply, maxNavPerShare, rate decimal.Decimal) decimal.Decimal {
	if !totalSupply.IsPositive() || !rate.IsPositive() {
		return decimal.Zero
	}
	if !decmath.Div(nav, totalSupply).GreaterThan(maxNavPerShare) {
		return decimal.Zero
	}
	gain := nav.Sub(decmath.Mul(maxNavPerShare, totalSupply))
	if !gain.IsPositive() {
		return decimal.Zero
	}
	return decmath.Mul(gain, rate)
}

// Accrual tracks the fee clock and high-water mark.
type Accrual struct {
	state model.FeeState
}

// NewAccrual starts the fee clock at now with no fee claimed.
func NewAccrual(now time.Time) *Accrual {
	return &Accrual{state: model.FeeState{LastFeeTime: now}}
}

// State returns a copy of the current fee state.
func (a *Accrual) State() model.FeeState { return a.state }

// Restore replaces the fee state, used to roll back a failed operation.
func (a *Accrual) Restore(s model.FeeState) { a.state = s }

// Pending computes the streaming and performance fee accrued on preFeeNav
// since the last commit.
func (a *Accrual) Pending(preFeeNav, totalSupply decimal.Decimal, rates Rates, now time.Time) (streaming, performance decimal.Decimal) {
	return Pending(a.state, preFeeNav, totalSupply, rates, now)
}

// Pending is the accrual computation over an explicit fee state. Nothing
// accrues without supply or before the clock was started. Both fees are
// charged on preFeeNav: the performance fee does not net the streaming fee.
func Pending(state model.FeeState, preFeeNav, totalSupply decimal.Decimal, rates Rates, now time.Time) (streaming, performance decimal.Decimal) {
	if !totalSupply.IsPositive() || state.LastFeeTime.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	streaming = StreamingFee(preFeeNav, rates.Streaming, now.Sub(state.LastFeeTime))
	performance = PerformanceFee(preFeeNav, totalSupply, state.MaxNetAssetValuePerShare, rates.Performance)
	return streaming, performance
}

// Commit records claimed fees, raises the high-water mark to
// candidateMaxNavPerShare if higher and advances the fee clock to now.
func (a *Accrual) Commit(claimed, candidateMaxNavPerShare decimal.Decimal, now time.Time) error {
	if claimed.IsNegative() {
		return ErrInvalidFee
	}
	if now.Before(a.state.LastFeeTime) {
		return fmt.Errorf("%w: %s < %s", ErrClockRewind, now, a.state.LastFeeTime)
	}
	a.state.TotalFeeClaimed = a.state.TotalFeeClaimed.Add(claimed)
	a.state.MaxNetAssetValuePerShare = decmath.Max(a.state.MaxNetAssetValuePerShare, candidateMaxNavPerShare)
	a.state.LastFeeTime = now
	return nil
}

// Withdraw releases amount of claimed fee to the manager.
func (a *Accrual) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidFee
	}
	if amount.GreaterThan(a.state.TotalFeeClaimed) {
		return fmt.Errorf("%w: claimed %s", ErrAmountExceeded, a.state.TotalFeeClaimed)
	}
	a.state.TotalFeeClaimed = a.state.TotalFeeClaimed.Sub(amount)
	return nil
}
