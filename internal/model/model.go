// Package model defines the core domain types shared across the fund engine.
// All monetary values and share amounts use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position held with the Position Service.
// The numbering follows the venue: 0 flat, 1 short, 2 long.
type Side int

const (
	SideFlat Side = iota
	SideShort
	SideLong
)

// SideStay is the strategy's "keep the current position" signal.
const SideStay = SideFlat

func (s Side) String() string {
	switch s {
	case SideFlat:
		return "flat"
	case SideShort:
		return "short"
	case SideLong:
		return "long"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// Valid reports whether s is one of flat/stay, short or long.
func (s Side) Valid() bool {
	return s == SideFlat || s == SideShort || s == SideLong
}

// Opposite returns the other direction. Flat is its own opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideShort:
		return SideLong
	case SideLong:
		return SideShort
	default:
		return SideFlat
	}
}

// ParseSide accepts "flat", "stay", "short", "long" (case-insensitive).
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "flat", "stay":
		return SideFlat, nil
	case "short":
		return SideShort, nil
	case "long":
		return SideLong, nil
	}
	return SideFlat, fmt.Errorf("unknown side %q", v)
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LifecycleStatus is the fund's forward-only state: Normal → Emergency → Shutdown.
type LifecycleStatus int

const (
	StatusNormal LifecycleStatus = iota
	StatusEmergency
	StatusShutdown
)

func (s LifecycleStatus) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusEmergency:
		return "emergency"
	case StatusShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s LifecycleStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// PositionSnapshot is the read-only view of the fund's margin account as
// reported by the Position Service.
type PositionSnapshot struct {
	Side          Side            `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryValue    decimal.Decimal `json:"entry_value"`
	MarginBalance decimal.Decimal `json:"margin_balance"`
}

// IsFlat reports whether there is no open exposure.
func (p PositionSnapshot) IsFlat() bool {
	return p.Side == SideFlat || p.Size.IsZero()
}

// FeeState is the fee clock and high-water mark.
type FeeState struct {
	TotalFeeClaimed          decimal.Decimal `json:"total_fee_claimed"`
	MaxNetAssetValuePerShare decimal.Decimal `json:"max_net_asset_value_per_share"`
	LastFeeTime              time.Time       `json:"last_fee_time"`
}

// ShareBalance is one holder's ledger record.
type ShareBalance struct {
	Balance           decimal.Decimal `json:"balance"`
	RedeemingBalance  decimal.Decimal `json:"redeeming_balance"`
	RedeemingSlippage decimal.Decimal `json:"redeeming_slippage"`
	LastPurchaseTime  time.Time       `json:"last_purchase_time"`
}

// Transferable is the part of the balance not queued for redemption.
func (b ShareBalance) Transferable() decimal.Decimal {
	return b.Balance.Sub(b.RedeemingBalance)
}

// JournalKind names the fund operation recorded by a JournalEntry.
type JournalKind string

const (
	JournalPurchase     JournalKind = "purchase"
	JournalRedeem       JournalKind = "redeem"
	JournalCancelRedeem JournalKind = "cancel_redeem"
	JournalBid          JournalKind = "bid"
	JournalBidSettled   JournalKind = "bid_settled"
	JournalWithdraw     JournalKind = "withdraw"
	JournalTransfer     JournalKind = "transfer"
	JournalRebalance    JournalKind = "rebalance"
	JournalEmergency    JournalKind = "emergency"
	JournalSettleMargin JournalKind = "settle_margin"
	JournalShutdown     JournalKind = "shutdown"
	JournalSettle       JournalKind = "settle"
	JournalFeeWithdraw  JournalKind = "fee_withdraw"
	JournalParameterSet JournalKind = "parameter_set"
	JournalPause        JournalKind = "pause"
	JournalUnpause      JournalKind = "unpause"
	JournalManagerSet   JournalKind = "manager_set"
)

// JournalEntry is an immutable record of a completed fund operation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID           string          `json:"id" db:"id"`
	Kind         JournalKind     `json:"kind" db:"kind"`
	Holder       string          `json:"holder" db:"holder"`
	Counterparty string          `json:"counterparty,omitempty" db:"counterparty"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Collateral   decimal.Decimal `json:"collateral" db:"collateral"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Fee          decimal.Decimal `json:"fee" db:"fee"`
	Note         string          `json:"note,omitempty" db:"note"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// NAVSnapshot is a point-in-time valuation of the fund.
type NAVSnapshot struct {
	NetAssetValue         decimal.Decimal `json:"net_asset_value"`
	NetAssetValuePerShare decimal.Decimal `json:"net_asset_value_per_share"`
	PendingFee            decimal.Decimal `json:"pending_fee"`
	Leverage              decimal.Decimal `json:"leverage"`
	Drawdown              decimal.Decimal `json:"drawdown"`
	TotalSupply           decimal.Decimal `json:"total_supply"`
	State                 string          `json:"state"`
	At                    time.Time       `json:"at"`
}

// FundSummary aggregates the fund's identity, state and fee clock.
type FundSummary struct {
	Account          string           `json:"account"`
	Administrator    string           `json:"administrator"`
	Manager          string           `json:"manager"`
	Maintainer       string           `json:"maintainer,omitempty"`
	Capacity         decimal.Decimal  `json:"capacity"`
	State            LifecycleStatus  `json:"state"`
	TotalSupply      decimal.Decimal  `json:"total_supply"`
	FundRedeeming    decimal.Decimal  `json:"fund_redeeming_balance"`
	Fee              FeeState         `json:"fee"`
	Custody          decimal.Decimal  `json:"custody"`
	OwedWithdrawable decimal.Decimal  `json:"owed_withdrawable"`
	MarginSettled    bool             `json:"margin_settled"`
	Paused           bool             `json:"paused"`
	Strategy         string           `json:"strategy,omitempty"`
	Position         PositionSnapshot `json:"position"`
}

// AccountSummary is one holder's view of the fund.
type AccountSummary struct {
	Holder                 string          `json:"holder"`
	Shares                 ShareBalance    `json:"shares"`
	CanRedeem              bool            `json:"can_redeem"`
	RedeemableShareBalance decimal.Decimal `json:"redeemable_share_balance"`
	WithdrawableCollateral decimal.Decimal `json:"withdrawable_collateral"`
}

// VenueStatus is the Position Service's own lifecycle. Emergency means a
// global settlement is in progress; Settled means it has completed and
// accounts can be settled.
type VenueStatus int

const (
	VenueNormal VenueStatus = iota
	VenueEmergency
	VenueSettled
)

func (s VenueStatus) String() string {
	switch s {
	case VenueNormal:
		return "normal"
	case VenueEmergency:
		return "emergency"
	case VenueSettled:
		return "settled"
	default:
		return fmt.Sprintf("venue_status(%d)", int(s))
	}
}

func (s VenueStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Order is one side of a trade submitted to the exchange. Side is the
// trader's direction: long buys, short sells. Price is the worst price the
// trader accepts.
type Order struct {
	Trader string          `json:"trader"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// Event is a notification of a completed fund operation, fanned out to
// WebSocket clients and the message bus.
type Event struct {
	Type        JournalKind     `json:"type"`
	Holder      string          `json:"holder,omitempty"`
	Shares      decimal.Decimal `json:"shares"`
	Collateral  decimal.Decimal `json:"collateral"`
	NAVPerShare decimal.Decimal `json:"nav_per_share"`
	State       LifecycleStatus `json:"state"`
	At          time.Time       `json:"at"`
}
