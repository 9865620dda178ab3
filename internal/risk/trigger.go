// Package risk evaluates the fund's automatic emergency triggers.
//
// A fund may be moved into Emergency by anyone once it breaches one of two
// high-water marks:
//   - drawdown of NAV per share from its peak
//   - absolute leverage of the position against fund equity
//
// A mark of zero disables the corresponding trigger.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDrawdownBreached is returned when drawdown reached the drawdown mark.
	ErrDrawdownBreached = errors.New("risk: drawdown high-water mark reached")

	// ErrLeverageBreached is returned when |leverage| reached the leverage mark.
	ErrLeverageBreached = errors.New("risk: leverage high-water mark reached")
)

// Reading is the valuation figures a trigger is checked against.
type Reading struct {
	Drawdown decimal.Decimal
	// Leverage is signed; only its magnitude is compared.
	Leverage decimal.Decimal
	// HasSupply is false for an empty fund, for which drawdown is undefined.
	HasSupply bool
}

// EmergencyTrigger holds the two high-water marks.
type EmergencyTrigger struct {
	// DrawdownHWM is the drawdown at or above which the fund may be stopped.
	DrawdownHWM decimal.Decimal

	// LeverageHWM is the absolute leverage at or above which the fund may be stopped.
	LeverageHWM decimal.Decimal
}

// NewEmergencyTrigger creates a trigger. Negative marks are treated as disabled.
func NewEmergencyTrigger(drawdownHWM, leverageHWM decimal.Decimal) *EmergencyTrigger {
	if drawdownHWM.IsNegative() {
		drawdownHWM = decimal.Zero
	}
	if leverageHWM.IsNegative() {
		leverageHWM = decimal.Zero
	}
	return &EmergencyTrigger{DrawdownHWM: drawdownHWM, LeverageHWM: leverageHWM}
}

// Check returns nil when the fund is within both marks, or an error naming
// the breached one. Drawdown is checked first.
func (t *EmergencyTrigger) Check(r Reading) error {
	// 1. Drawdown, meaningful only once shares exist.
	if r.HasSupply && t.DrawdownHWM.IsPositive() && r.Drawdown.GreaterThanOrEqual(t.DrawdownHWM) {
		return fmt.Errorf("%w: %s >= %s", ErrDrawdownBreached, r.Drawdown, t.DrawdownHWM)
	}

	// 2. Leverage magnitude.
	if t.LeverageHWM.IsPositive() && r.Leverage.Abs().GreaterThanOrEqual(t.LeverageHWM) {
		return fmt.Errorf("%w: |%s| >= %s", ErrLeverageBreached, r.Leverage, t.LeverageHWM)
	}

	return nil
}

// CanShutdown reports whether either mark has been reached.
func (t *EmergencyTrigger) CanShutdown(r Reading) bool {
	return t.Check(r) != nil
}
