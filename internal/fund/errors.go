package fund

import (
	"errors"

	"github.com/atmx/fund-engine/internal/auction"
	"github.com/atmx/fund-engine/internal/collateral"
	"github.com/atmx/fund-engine/internal/fee"
	"github.com/atmx/fund-engine/internal/ledger"
	"github.com/atmx/fund-engine/internal/params"
	"github.com/atmx/fund-engine/internal/strategy"
	"github.com/atmx/fund-engine/internal/valuation"
)

var (
	ErrBadState                 = errors.New("fund: bad state")
	ErrUnauthorized             = errors.New("fund: caller not authorized")
	ErrInvalidAmount            = errors.New("fund: amount must be positive")
	ErrInvalidPrice             = errors.New("fund: price must be positive")
	ErrInvalidSide              = errors.New("fund: invalid side")
	ErrInvalidAccount           = errors.New("fund: account must not be empty")
	ErrPriceNotMet              = errors.New("fund: price not met")
	ErrInsufficientCollateral   = errors.New("fund: insufficient collateral")
	ErrLockPeriodNotElapsed     = errors.New("fund: redeeming lock period not elapsed")
	ErrAmountExceeded           = errors.New("fund: amount exceeded")
	ErrCannotShutdown           = errors.New("fund: cannot shutdown")
	ErrPositionServiceEmergency = errors.New("fund: position service in emergency")
	ErrWrongPositionStatus      = errors.New("fund: wrong position status")
	ErrAlreadySettled           = errors.New("fund: margin account already settled")
	ErrNoRebalanceNeeded        = errors.New("fund: need no rebalance")
	ErrUnexpectedSide           = errors.New("fund: unexpected side")
	ErrNoStrategy               = errors.New("fund: no strategy selected")
	ErrNegativeProceeds         = errors.New("fund: price loss exceeds redemption value")
	ErrPaused                   = errors.New("fund: paused")

	// ErrExternal wraps failures of the Position Service, the exchange or
	// collateral transfers.
	ErrExternal = errors.New("fund: external call failed")
)

// Kind classifies an error for callers that map errors to responses.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindExternal
	KindInvariant
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindExternal:
		return "external"
	case KindInvariant:
		return "invariant"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

var (
	validationErrors = []error{
		ErrInvalidAmount, ErrInvalidPrice, ErrInvalidSide, ErrInvalidAccount,
		ledger.ErrInvalidAmount, ledger.ErrSlippageTooLarge, ledger.ErrSelfTransfer, ledger.ErrInvalidCapacity,
		auction.ErrInvalidAmount, auction.ErrInvalidPrice, auction.ErrInvalidSide,
		auction.ErrSlippageTooLarge, auction.ErrPriceTooLow, auction.ErrPriceTooHigh,
		params.ErrUnrecognizedKey, params.ErrInvalidValue, params.ErrRateTooLarge, params.ErrHWMTooHigh,
		params.ErrSlippageTooLarge, params.ErrToleranceTooHigh, params.ErrInvalidStrategyName,
		strategy.ErrUnknownStrategy, fee.ErrInvalidFee,
		collateral.ErrInvalidAmount,
	}

	stateErrors = []error{
		ErrBadState, ErrPriceNotMet, ErrInsufficientCollateral, ErrLockPeriodNotElapsed,
		ErrAmountExceeded, ErrCannotShutdown, ErrPositionServiceEmergency, ErrWrongPositionStatus,
		ErrAlreadySettled, ErrNoRebalanceNeeded, ErrUnexpectedSide, ErrNoStrategy, ErrPaused,
		ledger.ErrInsufficientBalance, ledger.ErrExceedsBalance, ledger.ErrInsufficientTransferable,
		ledger.ErrAmountExceeded, ledger.ErrCapacityExceeded,
		auction.ErrUnexpectedSide, auction.ErrNoPosition, auction.ErrAmountExceedsPool,
		fee.ErrAmountExceeded, valuation.ErrNoShareSupplied,
		collateral.ErrInsufficientFunds,
	}

	invariantErrors = []error{
		ErrNegativeProceeds, valuation.ErrFeeExceedsAssets, valuation.ErrNoMarginBalance, fee.ErrClockRewind,
	}
)

// KindOf classifies err. Errors from collaborators that are not wrapped in
// ErrExternal and not recognized are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrUnauthorized) {
		return KindUnauthorized
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	for _, target := range stateErrors {
		if errors.Is(err, target) {
			return KindState
		}
	}
	for _, target := range invariantErrors {
		if errors.Is(err, target) {
			return KindInvariant
		}
	}
	if errors.Is(err, ErrExternal) {
		return KindExternal
	}
	return KindUnknown
}
