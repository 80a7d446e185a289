// Package pricing holds the pure price/offset math used when converting a
// fill price plus a strategy's dollar/percent configuration into target,
// stop and trigger prices. All arithmetic runs on decimals and results are
// rounded to the instrument's minimum price increment, so repeated offset
// application never accumulates binary-float error.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

// DefaultTick is the minimum price increment assumed for equities unless
// overridden: one cent.
const DefaultTick = 0.01

// Direction states which way the computed price moves relative to the
// position: WithPosition for profit targets and trigger prices (price moves
// in the position's favor), AgainstPosition for protective stops.
type Direction int

const (
	WithPosition Direction = iota
	AgainstPosition
)

// Target computes a target price from a reference price, the entry side and
// a dollar/percent offset.
//
// For a BUY entry, WithPosition means up (reference + offset) and
// AgainstPosition means down; the signs invert for a SELL (short) entry.
// The offset is rounded to a whole number of ticks with a floor of one
// tick, so the result always clears the reference even when the configured
// offset is smaller than the tick. The result is rounded to tick
// (DefaultTick when tick <= 0).
func Target(reference float64, side domain.OrderSide, offsetType domain.OffsetType, offsetValue float64, dir Direction, tick float64) float64 {
	if tick <= 0 {
		tick = DefaultTick
	}
	ref := decimal.NewFromFloat(reference)
	t := decimal.NewFromFloat(tick)

	var delta decimal.Decimal
	switch offsetType {
	case domain.OffsetPercent:
		delta = ref.Mul(decimal.NewFromFloat(offsetValue).Div(decimal.NewFromInt(100)))
	default:
		delta = decimal.NewFromFloat(offsetValue)
	}
	steps := delta.Div(t).Round(0)
	if steps.LessThan(decimal.NewFromInt(1)) {
		steps = decimal.NewFromInt(1)
	}
	delta = steps.Mul(t)

	up := side == domain.Buy
	if dir == AgainstPosition {
		up = !up
	}

	var out decimal.Decimal
	if up {
		out = ref.Add(delta)
	} else {
		out = ref.Sub(delta)
	}
	return roundToTick(out, tick)
}

// StopLimit derives the limit price for a stop-limit exit: one tick below
// the stop for a long being sold (entry side BUY), one tick above for a
// short being covered (entry side SELL). The bias ensures the limit leg
// fills once the stop triggers.
func StopLimit(stopPrice float64, entrySide domain.OrderSide, tick float64) float64 {
	if tick <= 0 {
		tick = DefaultTick
	}
	stop := decimal.NewFromFloat(stopPrice)
	t := decimal.NewFromFloat(tick)
	if entrySide == domain.Buy {
		return roundToTick(stop.Sub(t), tick)
	}
	return roundToTick(stop.Add(t), tick)
}

func roundToTick(d decimal.Decimal, tick float64) float64 {
	if tick <= 0 {
		tick = DefaultTick
	}
	t := decimal.NewFromFloat(tick)
	out, _ := d.Div(t).Round(0).Mul(t).Float64()
	return out
}
