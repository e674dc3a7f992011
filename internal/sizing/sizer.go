// Package sizing turns an accepted signal and the current cash balance into a
// unit size.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
)

var (
	ErrInvalidPrice    = errors.New("sizing: entry price must be positive")
	ErrNonPositiveSize = errors.New("sizing: computed size is not positive")
	ErrUnknownMode     = errors.New("sizing: unknown mode")
	ErrNoStopDistance  = errors.New("sizing: stop loss equals entry price")
)

// Size returns the number of units to open for sig given balance. Exactly one
// policy applies per call, selected by p.Mode:
//
//   - percent: clamp(balance × PositionSizePercent, min, max) / entry
//   - risk:    balance × RiskPerTrade / |entry − stop|, with the resulting
//     notional clamped to [min, max]
func Size(sig domain.Signal, balance decimal.Decimal, p config.SizingParams) (decimal.Decimal, error) {
	entry := sig.EntryPrice
	if !entry.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidPrice, entry)
	}
	minValue := decimal.NewFromFloat(p.MinPositionValue)
	maxValue := decimal.NewFromFloat(p.MaxPositionValue)

	var units decimal.Decimal
	switch p.Mode {
	case config.SizingPercent, "":
		target := balance.Mul(decimal.NewFromFloat(p.PositionSizePercent))
		units = clamp(target, minValue, maxValue).Div(entry)
	case config.SizingRisk:
		distance := entry.Sub(sig.StopLoss).Abs()
		if distance.IsZero() {
			return decimal.Zero, ErrNoStopDistance
		}
		riskAmount := balance.Mul(decimal.NewFromFloat(p.RiskPerTrade))
		units = riskAmount.Div(distance)
		notional := clamp(units.Mul(entry), minValue, maxValue)
		units = notional.Div(entry)
	default:
		return decimal.Zero, fmt.Errorf("%w %q", ErrUnknownMode, p.Mode)
	}

	if !units.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s units", ErrNonPositiveSize, units)
	}
	return units, nil
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
