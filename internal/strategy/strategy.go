// Package strategy defines the pluggable rebalancing strategy the fund
// consults, and a target-leverage strategy fed by an external signal.
//
// Strategies are injected into the fund at construction in a Registry and
// selected by name through the "strategy" parameter.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/model"
)

var (
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")
	ErrNoMarkPrice     = errors.New("strategy: mark price must be positive")
	ErrDuplicateName   = errors.New("strategy: duplicate strategy name")
)

// FundView is what a strategy sees of the fund.
type FundView struct {
	NAV       decimal.Decimal
	MarkPrice decimal.Decimal
	Position  model.PositionSnapshot
	// Leverage is signed: positive long, negative short, unless Inversed.
	Leverage decimal.Decimal
	Inversed bool
	// Tolerance is the leverage distance under which no rebalance is needed.
	Tolerance decimal.Decimal
}

// Target is a strategy's rebalancing instruction. Side is the direction the
// fund should trade: long buys, short sells, flat (stay) holds.
type Target struct {
	NeedRebalance bool            `json:"need_rebalance"`
	Amount        decimal.Decimal `json:"amount"`
	Side          model.Side      `json:"side"`
}

// Strategy computes rebalancing targets.
type Strategy interface {
	Name() string
	ComputeRebalanceTarget(ctx context.Context, view FundView) (Target, error)
}

// Registry is a fixed set of named strategies.
type Registry struct {
	byName map[string]Strategy
}

// NewRegistry indexes strategies by name.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{byName: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.byName[s.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, s.Name())
		}
		r.byName[s.Name()] = s
	}
	return r, nil
}

// Lookup returns the strategy registered under name.
func (r *Registry) Lookup(name string) (Strategy, error) {
	if r != nil {
		if s, ok := r.byName[name]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Signal supplies the leverage the fund should run at, signed like FundView.Leverage.
type Signal interface {
	NextTargetLeverage(ctx context.Context) (decimal.Decimal, error)
}

// StaticSignal is a Signal whose value is set by an operator.
type StaticSignal struct {
	mu       sync.RWMutex
	leverage decimal.Decimal
}

// NewStaticSignal creates a signal fixed at leverage.
func NewStaticSignal(leverage decimal.Decimal) *StaticSignal {
	return &StaticSignal{leverage: leverage}
}

func (s *StaticSignal) NextTargetLeverage(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leverage, nil
}

// Set changes the target leverage.
func (s *StaticSignal) Set(leverage decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = leverage
}

// LeverageStrategy sizes the position so that leverage matches the signal:
// target size = |leverage| * nav / mark.
type LeverageStrategy struct {
	name   string
	signal Signal
}

// NewLeverageStrategy creates a target-leverage strategy named name.
func NewLeverageStrategy(name string, signal Signal) *LeverageStrategy {
	return &LeverageStrategy{name: name, signal: signal}
}

func (s *LeverageStrategy) Name() string { return s.name }

func (s *LeverageStrategy) ComputeRebalanceTarget(ctx context.Context, view FundView) (Target, error) {
	stay := Target{Side: model.SideStay, Amount: decimal.Zero}

	if !view.MarkPrice.IsPositive() {
		return stay, ErrNoMarkPrice
	}
	lev, err := s.signal.NextTargetLeverage(ctx)
	if err != nil {
		return stay, fmt.Errorf("strategy %s: %w", s.name, err)
	}
	if lev.Sub(view.Leverage).Abs().LessThanOrEqual(view.Tolerance) && !view.Tolerance.IsZero() {
		return stay, nil
	}

	// Work in signed size: positive long, negative short.
	if view.Inversed {
		lev = lev.Neg()
	}
	target := decmath.Div(decmath.Mul(lev, view.NAV), view.MarkPrice)
	current := view.Position.Size
	if view.Position.Side == model.SideShort {
		current = current.Neg()
	} else if view.Position.Side == model.SideFlat {
		current = decimal.Zero
	}

	delta := target.Sub(current)
	switch {
	case delta.IsPositive():
		return Target{NeedRebalance: true, Amount: delta, Side: model.SideLong}, nil
	case delta.IsNegative():
		return Target{NeedRebalance: true, Amount: delta.Abs(), Side: model.SideShort}, nil
	}
	return stay, nil
}
