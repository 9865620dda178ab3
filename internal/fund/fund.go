// Package fund is the fund's lifecycle controller: a single actor that owns
// the share ledger, the fee clock and the lifecycle status, and orchestrates
// every operation against the Position Service, the exchange and the
// collateral wallet.
//
// Every public operation runs under one mutex and is all-or-nothing: the
// fund's own state is snapshotted before the operation and restored if it
// fails. External calls are made after all validation, in an order that
// leaves the venue consistent when a later call fails.
package fund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/collateral"
	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/fee"
	"github.com/atmx/fund-engine/internal/ledger"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/params"
	"github.com/atmx/fund-engine/internal/risk"
	"github.com/atmx/fund-engine/internal/strategy"
	"github.com/atmx/fund-engine/internal/valuation"
)

// Config is the fund's identity and initial configuration.
type Config struct {
	// Account is the fund's margin account at the Position Service.
	Account       string
	Administrator string
	Manager       string
	// Maintainer may pause and unpause the fund alongside the administrator.
	Maintainer string
	// Capacity caps the total share supply.
	Capacity decimal.Decimal
	Scaler   collateral.Scaler
	// Inversed fixes the leverage sign convention at creation.
	Inversed bool
	Params   params.Params
	// SettlementSlippage is the slippage conceded by settled-share bids.
	SettlementSlippage decimal.Decimal
}

// Option customizes a Fund.
type Option func(*Fund)

// WithJournal records completed operations in j.
func WithJournal(j Journal) Option { return func(f *Fund) { f.journal = j } }

// WithPublisher fans completed operations out through p.
func WithPublisher(p Publisher) Option { return func(f *Fund) { f.publisher = p } }

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(f *Fund) { f.clock = c } }

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option { return func(f *Fund) { f.logger = l } }

// WithStrategies injects the strategies the "strategy" parameter selects from.
func WithStrategies(r *strategy.Registry) Option { return func(f *Fund) { f.strategies = r } }

// state is everything an operation may mutate.
type state struct {
	ledger             *ledger.Ledger
	accrual            *fee.Accrual
	params             params.Params
	status             model.LifecycleStatus
	paused             bool
	manager            string
	custody            decimal.Decimal
	withdrawable       map[string]decimal.Decimal
	marginSettled      bool
	settlementSlippage decimal.Decimal
}

func (s *state) clone() *state {
	acc := fee.NewAccrual(time.Time{})
	acc.Restore(s.accrual.State())
	w := make(map[string]decimal.Decimal, len(s.withdrawable))
	for k, v := range s.withdrawable {
		w[k] = v
	}
	return &state{
		ledger:             s.ledger.Clone(),
		accrual:            acc,
		params:             s.params,
		status:             s.status,
		paused:             s.paused,
		manager:            s.manager,
		custody:            s.custody,
		withdrawable:       w,
		marginSettled:      s.marginSettled,
		settlementSlippage: s.settlementSlippage,
	}
}

// owed is collateral held for holders' completed redemptions.
func (s *state) owed() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range s.withdrawable {
		sum = sum.Add(v)
	}
	return sum
}

// Fund is safe for concurrent use.
type Fund struct {
	mu sync.Mutex

	account       string
	administrator string
	maintainer    string
	scaler        collateral.Scaler

	venue      PositionService
	exchange   Exchange
	wallet     collateral.Transferer
	engine     *valuation.Engine
	auctioneer *auction.Auctioneer
	strategies *strategy.Registry

	journal   Journal
	publisher Publisher
	clock     Clock
	logger    *slog.Logger

	st *state
}

// New creates a fund in Normal state with an empty ledger.
func New(cfg Config, venue PositionService, exchange Exchange, wallet collateral.Transferer, opts ...Option) (*Fund, error) {
	if cfg.Account == "" || cfg.Administrator == "" {
		return nil, fmt.Errorf("fund: account and administrator are required")
	}
	if venue == nil || exchange == nil || wallet == nil {
		return nil, fmt.Errorf("fund: position service, exchange and wallet are required")
	}
	l, err := ledger.New(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if !decmath.InUnitRange(cfg.SettlementSlippage) {
		return nil, auction.ErrSlippageTooLarge
	}
	if cfg.Manager == "" {
		cfg.Manager = cfg.Administrator
	}
	if cfg.Scaler.Factor().IsZero() {
		cfg.Scaler = collateral.Native()
	}

	f := &Fund{
		account:       cfg.Account,
		administrator: cfg.Administrator,
		maintainer:    cfg.Maintainer,
		scaler:        cfg.Scaler,
		venue:         venue,
		exchange:      exchange,
		wallet:        wallet,
		engine:        valuation.NewEngine(venue, cfg.Account, cfg.Inversed),
		auctioneer:    auction.NewAuctioneer(),
		journal:       nopJournal{},
		publisher:     nopPublisher{},
		clock:         SystemClock{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if cfg.Params.Strategy != "" {
		if _, err := f.strategies.Lookup(cfg.Params.Strategy); err != nil {
			return nil, err
		}
	}

	f.st = &state{
		ledger:             l,
		accrual:            fee.NewAccrual(f.clock.Now()),
		params:             cfg.Params,
		status:             model.StatusNormal,
		manager:            cfg.Manager,
		custody:            decimal.Zero,
		withdrawable:       make(map[string]decimal.Decimal),
		settlementSlippage: cfg.SettlementSlippage,
	}
	return f, nil
}

// pausable are the holder and bidder operations a pause blocks.
var pausable = map[string]bool{
	"purchase":      true,
	"redeem":        true,
	"cancel_redeem": true,
	"transfer":      true,
	"withdraw":      true,
	"bid":           true,
	"bid_settled":   true,
	"rebalance":     true,
	"settle":        true,
}

// record describes a completed operation for the journal and subscribers.
type record struct {
	entry       model.JournalEntry
	navPerShare decimal.Decimal
}

// exec runs fn under the fund lock. On error the fund state is restored.
// On success the operation is journaled and published; failures there are
// logged and never undo the operation.
func (f *Fund) exec(ctx context.Context, op string, fn func(now time.Time) (record, error)) error {
	start := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	backup := f.st.clone()
	now := f.clock.Now()
	var rec record
	var err error
	if f.st.paused && pausable[op] {
		err = fmt.Errorf("%w: %s", ErrPaused, op)
	} else {
		rec, err = fn(now)
	}
	if err == nil {
		if ierr := f.st.ledger.CheckInvariants(); ierr != nil {
			err = ierr
		}
	}
	metrics.ObserveOperation(op, err, start)
	if err != nil {
		f.st = backup
		f.logger.Warn("fund operation rejected", "op", op, "err", err)
		return err
	}

	entry := rec.entry
	entry.ID = uuid.New().String()
	entry.Timestamp = now
	if err := f.journal.InsertJournalEntry(ctx, &entry); err != nil {
		f.logger.Error("failed to record journal entry", "op", op, "id", entry.ID, "err", err)
	}
	f.publisher.Publish(ctx, model.Event{
		Type:        entry.Kind,
		Holder:      entry.Holder,
		Shares:      entry.Shares,
		Collateral:  entry.Collateral,
		NAVPerShare: rec.navPerShare,
		State:       f.st.status,
		At:          now,
	})
	metrics.ObserveFee(f.st.accrual.State(), f.st.status)

	f.logger.Info("fund operation",
		"op", op,
		"id", entry.ID,
		"holder", entry.Holder,
		"counterparty", entry.Counterparty,
		"shares", entry.Shares.String(),
		"collateral", entry.Collateral.String(),
		"price", entry.Price.String(),
		"nav_per_share", rec.navPerShare.String(),
		"state", f.st.status.String(),
	)
	return nil
}

func external(err error) error {
	return fmt.Errorf("%w: %w", ErrExternal, err)
}

// evaluate values the fund at now. Fees accrue only in Normal.
func (f *Fund) evaluate(ctx context.Context, now time.Time) (valuation.Valuation, error) {
	v, err := f.engine.Evaluate(ctx, valuation.Input{
		TotalSupply: f.st.ledger.TotalSupply(),
		Fee:         f.st.accrual.State(),
		Rates:       f.st.params.FeeRates(),
		Now:         now,
		Accrue:      f.st.status == model.StatusNormal,
	})
	if err != nil && !errors.Is(err, valuation.ErrNoMarginBalance) && !errors.Is(err, valuation.ErrFeeExceedsAssets) {
		return v, external(err)
	}
	return v, err
}

// commitFee claims the valuation's pending fee plus extra and advances the
// fee clock. The high-water mark only moves in Normal.
func (f *Fund) commitFee(v valuation.Valuation, extra decimal.Decimal, now time.Time) error {
	candidate := decimal.Zero
	if f.st.status == model.StatusNormal {
		candidate = v.NAVPerShare
	}
	return f.st.accrual.Commit(v.PendingFee().Add(extra), candidate, now)
}

// residual is the collateral in custody that belongs to shareholders.
func (f *Fund) residual() decimal.Decimal {
	return f.st.custody.Sub(f.st.owed()).Sub(f.st.accrual.State().TotalFeeClaimed)
}

// reading values the fund for queries and the emergency trigger. An
// unfunded margin account reads as zero NAV rather than an error.
func (f *Fund) reading(ctx context.Context, now time.Time) (model.NAVSnapshot, error) {
	supply := f.st.ledger.TotalSupply()
	fs := f.st.accrual.State()
	snap := model.NAVSnapshot{
		TotalSupply:           supply,
		NetAssetValue:         decimal.Zero,
		NetAssetValuePerShare: decimal.Zero,
		PendingFee:            decimal.Zero,
		Leverage:              decimal.Zero,
		Drawdown:              decimal.Zero,
		State:                 f.st.status.String(),
		At:                    now,
	}

	if f.st.status == model.StatusShutdown || f.st.marginSettled {
		snap.NetAssetValue = decmath.Max(f.residual(), decimal.Zero)
		if supply.IsPositive() {
			snap.NetAssetValuePerShare = decmath.Div(snap.NetAssetValue, supply)
		}
		return snap, nil
	}

	v, err := f.evaluate(ctx, now)
	switch {
	case errors.Is(err, valuation.ErrNoMarginBalance):
		if supply.IsPositive() && fs.MaxNetAssetValuePerShare.IsPositive() {
			snap.Drawdown = decmath.One
		}
		return snap, nil
	case err != nil:
		return snap, err
	}

	snap.NetAssetValue = v.NAV
	snap.NetAssetValuePerShare = v.NAVPerShare
	snap.PendingFee = v.PendingFee()
	snap.Leverage = v.Leverage
	if supply.IsPositive() {
		dd, err := valuation.Drawdown(fs.MaxNetAssetValuePerShare, v.NAVPerShare, supply)
		if err != nil {
			return snap, err
		}
		snap.Drawdown = dd
	}
	return snap, nil
}

func (f *Fund) trigger() *risk.EmergencyTrigger {
	return risk.NewEmergencyTrigger(f.st.params.DrawdownHighWaterMark, f.st.params.LeverageHighWaterMark)
}

func riskReading(s model.NAVSnapshot) risk.Reading {
	return risk.Reading{
		Drawdown:  s.Drawdown,
		Leverage:  s.Leverage,
		HasSupply: s.TotalSupply.IsPositive(),
	}
}

// --- Queries ---

// AccountName returns the fund's margin account.
func (f *Fund) AccountName() string { return f.account }

// Administrator returns the administrator account.
func (f *Fund) Administrator() string { return f.administrator }

// Manager returns the account fees are paid to.
func (f *Fund) Manager() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.manager
}

// Paused reports whether holder and bidder operations are blocked.
func (f *Fund) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.paused
}

// Status returns the lifecycle status.
func (f *Fund) Status() model.LifecycleStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.status
}

// Parameters returns the current configuration.
func (f *Fund) Parameters() params.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.params
}

// Summary reports the fund's identity, state and position.
func (f *Fund) Summary(ctx context.Context) (model.FundSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pos, err := f.venue.Position(ctx, f.account)
	if err != nil {
		return model.FundSummary{}, external(err)
	}
	return model.FundSummary{
		Account:          f.account,
		Administrator:    f.administrator,
		Manager:          f.st.manager,
		Maintainer:       f.maintainer,
		Capacity:         f.st.ledger.Capacity(),
		State:            f.st.status,
		TotalSupply:      f.st.ledger.TotalSupply(),
		FundRedeeming:    f.st.ledger.PoolRedeeming(),
		Fee:              f.st.accrual.State(),
		Custody:          f.st.custody,
		OwedWithdrawable: f.st.owed(),
		MarginSettled:    f.st.marginSettled,
		Paused:           f.st.paused,
		Strategy:         f.st.params.Strategy,
		Position:         pos,
	}, nil
}

// NAV values the fund now without committing anything.
func (f *Fund) NAV(ctx context.Context) (model.NAVSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading(ctx, f.clock.Now())
}

// Account reports one holder's shares and withdrawable collateral.
func (f *Fund) Account(holder string) model.AccountSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	lock := f.st.params.RedeemingLockPeriod
	return model.AccountSummary{
		Holder:                 holder,
		Shares:                 f.st.ledger.Account(holder),
		CanRedeem:              f.st.ledger.CanRedeem(holder, now, lock),
		RedeemableShareBalance: f.st.ledger.RedeemableShareBalance(holder, now, lock),
		WithdrawableCollateral: f.st.withdrawable[holder],
	}
}

// Holders lists holders with a non-zero balance.
func (f *Fund) Holders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.ledger.Holders()
}

// CanShutdown reports whether a drawdown or leverage mark was reached, which
// lets anyone trigger the emergency.
func (f *Fund) CanShutdown(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.status != model.StatusNormal {
		return false, nil
	}
	snap, err := f.reading(ctx, f.clock.Now())
	if err != nil {
		return false, err
	}
	return f.trigger().CanShutdown(riskReading(snap)), nil
}
