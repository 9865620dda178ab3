// Package params holds the fund's administrator-set configuration as a typed
// struct with one validating setter per field.
//
// Keys arriving from the outside (HTTP, config files) are parsed into a Key
// at the boundary; unknown keys are rejected there and never reach the fund.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/decmath"
	"github.com/atmx/fund-engine/internal/fee"
)

// Key names a recognized configuration entry.
type Key string

const (
	KeyRedeemingLockPeriod   Key = "redeemingLockPeriod"
	KeyDrawdownHighWaterMark Key = "drawdownHighWaterMark"
	KeyLeverageHighWaterMark Key = "leverageHighWaterMark"
	KeyEntranceFeeRate       Key = "entranceFeeRate"
	KeyStreamingFeeRate      Key = "streamingFeeRate"
	KeyPerformanceFeeRate    Key = "performanceFeeRate"
	KeyRebalanceSlippage     Key = "rebalanceSlippage"
	KeyRebalanceTolerance    Key = "rebalanceTolerance"
	KeyStrategy              Key = "strategy"
)

var recognized = map[Key]bool{
	KeyRedeemingLockPeriod:   true,
	KeyDrawdownHighWaterMark: true,
	KeyLeverageHighWaterMark: true,
	KeyEntranceFeeRate:       true,
	KeyStreamingFeeRate:      true,
	KeyPerformanceFeeRate:    true,
	KeyRebalanceSlippage:     true,
	KeyRebalanceTolerance:    true,
	KeyStrategy:              true,
}

// MaxHighWaterMark is the ten-fold ceiling for drawdown and leverage marks.
var MaxHighWaterMark = decimal.NewFromInt(10)

// strategyNameRegex matches registry names such as "target-leverage" or "rsi_trend".
var strategyNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

var (
	ErrUnrecognizedKey     = errors.New("params: unrecognized key")
	ErrInvalidValue        = errors.New("params: invalid value")
	ErrRateTooLarge        = errors.New("params: rate too large")
	ErrHWMTooHigh          = errors.New("params: too high hwm")
	ErrSlippageTooLarge    = errors.New("params: slippage too large")
	ErrToleranceTooHigh    = errors.New("params: tolerance too high")
	ErrInvalidStrategyName = errors.New("params: invalid strategy name")
)

// ParseKey maps an external key to a recognized Key.
func ParseKey(raw string) (Key, error) {
	k := Key(strings.TrimSpace(raw))
	if !recognized[k] {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedKey, raw)
	}
	return k, nil
}

// Keys returns every recognized key.
func Keys() []Key {
	return []Key{
		KeyRedeemingLockPeriod, KeyDrawdownHighWaterMark, KeyLeverageHighWaterMark,
		KeyEntranceFeeRate, KeyStreamingFeeRate, KeyPerformanceFeeRate,
		KeyRebalanceSlippage, KeyRebalanceTolerance, KeyStrategy,
	}
}

// Params is the fund configuration. The zero value is valid: no lock, no
// fees, emergency triggers disabled.
type Params struct {
	RedeemingLockPeriod   time.Duration   `json:"redeeming_lock_period"`
	DrawdownHighWaterMark decimal.Decimal `json:"drawdown_high_water_mark"`
	LeverageHighWaterMark decimal.Decimal `json:"leverage_high_water_mark"`
	EntranceFeeRate       decimal.Decimal `json:"entrance_fee_rate"`
	StreamingFeeRate      decimal.Decimal `json:"streaming_fee_rate"`
	PerformanceFeeRate    decimal.Decimal `json:"performance_fee_rate"`
	RebalanceSlippage     decimal.Decimal `json:"rebalance_slippage"`
	RebalanceTolerance    decimal.Decimal `json:"rebalance_tolerance"`
	Strategy              string          `json:"strategy,omitempty"`
}

// FeeRates returns the three fee rates.
func (p Params) FeeRates() fee.Rates {
	return fee.Rates{
		Entrance:    p.EntranceFeeRate,
		Streaming:   p.StreamingFeeRate,
		Performance: p.PerformanceFeeRate,
	}
}

func validRate(v decimal.Decimal) error {
	if !decmath.InUnitRange(v) {
		return fmt.Errorf("%w: %s not in [0, 1)", ErrRateTooLarge, v)
	}
	return nil
}

func validHWM(v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(MaxHighWaterMark) {
		return fmt.Errorf("%w: %s not in [0, %s]", ErrHWMTooHigh, v, MaxHighWaterMark)
	}
	return nil
}

func (p *Params) SetRedeemingLockPeriod(v time.Duration) error {
	if v < 0 {
		return fmt.Errorf("%w: negative lock period", ErrInvalidValue)
	}
	p.RedeemingLockPeriod = v
	return nil
}

func (p *Params) SetDrawdownHighWaterMark(v decimal.Decimal) error {
	if err := validHWM(v); err != nil {
		return err
	}
	p.DrawdownHighWaterMark = v
	return nil
}

func (p *Params) SetLeverageHighWaterMark(v decimal.Decimal) error {
	if err := validHWM(v); err != nil {
		return err
	}
	p.LeverageHighWaterMark = v
	return nil
}

func (p *Params) SetEntranceFeeRate(v decimal.Decimal) error {
	if err := validRate(v); err != nil {
		return err
	}
	p.EntranceFeeRate = v
	return nil
}

func (p *Params) SetStreamingFeeRate(v decimal.Decimal) error {
	if err := validRate(v); err != nil {
		return err
	}
	p.StreamingFeeRate = v
	return nil
}

func (p *Params) SetPerformanceFeeRate(v decimal.Decimal) error {
	if err := validRate(v); err != nil {
		return err
	}
	p.PerformanceFeeRate = v
	return nil
}

func (p *Params) SetRebalanceSlippage(v decimal.Decimal) error {
	if !decmath.InUnitRange(v) {
		return fmt.Errorf("%w: %s not in [0, 1)", ErrSlippageTooLarge, v)
	}
	p.RebalanceSlippage = v
	return nil
}

func (p *Params) SetRebalanceTolerance(v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(MaxHighWaterMark) {
		return fmt.Errorf("%w: %s not in [0, %s]", ErrToleranceTooHigh, v, MaxHighWaterMark)
	}
	p.RebalanceTolerance = v
	return nil
}

// SetStrategy selects a strategy by registry name. Empty clears it.
func (p *Params) SetStrategy(name string) error {
	if name != "" && !strategyNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidStrategyName, name)
	}
	p.Strategy = name
	return nil
}

// Set parses raw for key and applies the matching setter. Lock periods are
// whole seconds or a Go duration ("24h"); the others are decimals, except
// strategy which is a name.
func (p *Params) Set(key Key, raw string) error {
	raw = strings.TrimSpace(raw)
	switch key {
	case KeyRedeemingLockPeriod:
		d, err := parseDuration(raw)
		if err != nil {
			return err
		}
		return p.SetRedeemingLockPeriod(d)
	case KeyStrategy:
		return p.SetStrategy(raw)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	switch key {
	case KeyDrawdownHighWaterMark:
		return p.SetDrawdownHighWaterMark(v)
	case KeyLeverageHighWaterMark:
		return p.SetLeverageHighWaterMark(v)
	case KeyEntranceFeeRate:
		return p.SetEntranceFeeRate(v)
	case KeyStreamingFeeRate:
		return p.SetStreamingFeeRate(v)
	case KeyPerformanceFeeRate:
		return p.SetPerformanceFeeRate(v)
	case KeyRebalanceSlippage:
		return p.SetRebalanceSlippage(v)
	case KeyRebalanceTolerance:
		return p.SetRebalanceTolerance(v)
	}
	return fmt.Errorf("%w: %q", ErrUnrecognizedKey, key)
}

// Get returns the current value of key in the same format Set accepts.
func (p Params) Get(key Key) (string, error) {
	switch key {
	case KeyRedeemingLockPeriod:
		return strconv.FormatInt(int64(p.RedeemingLockPeriod/time.Second), 10), nil
	case KeyDrawdownHighWaterMark:
		return p.DrawdownHighWaterMark.String(), nil
	case KeyLeverageHighWaterMark:
		return p.LeverageHighWaterMark.String(), nil
	case KeyEntranceFeeRate:
		return p.EntranceFeeRate.String(), nil
	case KeyStreamingFeeRate:
		return p.StreamingFeeRate.String(), nil
	case KeyPerformanceFeeRate:
		return p.PerformanceFeeRate.String(), nil
	case KeyRebalanceSlippage:
		return p.RebalanceSlippage.String(), nil
	case KeyRebalanceTolerance:
		return p.RebalanceTolerance.String(), nil
	case KeyStrategy:
		return p.Strategy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedKey, key)
}

// Validate runs every setter's check against the current values.
func (p Params) Validate() error {
	var scratch Params
	checks := []error{
		scratch.SetRedeemingLockPeriod(p.RedeemingLockPeriod),
		scratch.SetDrawdownHighWaterMark(p.DrawdownHighWaterMark),
		scratch.SetLeverageHighWaterMark(p.LeverageHighWaterMark),
		scratch.SetEntranceFeeRate(p.EntranceFeeRate),
		scratch.SetStreamingFeeRate(p.StreamingFeeRate),
		scratch.SetPerformanceFeeRate(p.PerformanceFeeRate),
		scratch.SetRebalanceSlippage(p.RebalanceSlippage),
		scratch.SetRebalanceTolerance(p.RebalanceTolerance),
		scratch.SetStrategy(p.Strategy),
	}
	return errors.Join(checks...)
}

func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, KeyRedeemingLockPeriod, raw)
	}
	return d, nil
}

// Entry is one key/value pair in a parameter patch.
type Entry struct {
	Key   Key
	Value string
}

// DecodePatch reads a JSON object of key to value and returns the entries
// in key order. Unknown keys fail with ErrUnrecognizedKey.
func DecodePatch(r io.Reader) ([]Entry, error) {
	raw := make(map[string]json.RawMessage)
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var entries []Entry
	for _, k := range Keys() {
		msg, ok := raw[string(k)]
		if !ok {
			continue
		}
		delete(raw, string(k))
		v, err := RawValue(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, k)
		}
		entries = append(entries, Entry{Key: k, Value: v})
	}
	for k := range raw {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedKey, k)
	}
	return entries, nil
}

// RawValue accepts a JSON string or number and returns it as Set input.
func RawValue(msg json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return n.String(), nil
	}
	return "", ErrInvalidValue
}

// Apply validates every entry on a copy and returns it. p is untouched on error.
func (p Params) Apply(entries []Entry) (Params, error) {
	next := p
	for _, e := range entries {
		if err := next.Set(e.Key, e.Value); err != nil {
			return p, err
		}
	}
	return next, nil
}
