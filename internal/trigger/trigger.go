// Package trigger evaluates a position's stop-loss and laddered
// take-profit conditions on each price tick, and computes the trailing-
// stop promotion that follows a confirmed take-profit fill. Everything
// here is pure: given a position snapshot, it returns a decision without
// touching the network, the clock, or the store.
package trigger

import (
	"fmt"

	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/position"
)

// Action is a sell the evaluator decided to schedule.
type Action struct {
	// Level is 0 for a stop-loss, or the 1-indexed take-profit level that
	// fired.
	Level int

	// FractionPct is the percent of the position's remaining quantity to
	// sell.
	FractionPct int

	Reason string
}

// Evaluate inspects a position's current price against its stop-loss and
// take-profit ladder, in that order, and returns the first action that
// should fire. Only one action is ever returned per call: per §4.G, two
// levels triggering on the same tick still produce at most one scheduled
// sell, with the higher level deferred to the next tick. Evaluate never
// fires for a position that is not ACTIVE.
func Evaluate(p *position.Position) (*Action, bool) {
	if p.Status != position.StatusActive {
		return nil, false
	}

	if !p.CurrentPrice.GreaterThan(p.StopLossPrice) {
		return &Action{
			Level:       0,
			FractionPct: 100,
			Reason:      fmt.Sprintf("Stop Loss (%d%%)", stopLossPct(p.EntryPrice, p.StopLossPrice)),
		}, true
	}

	for _, level := range p.TakeProfitLevels {
		if level.Triggered {
			continue
		}
		if !p.CurrentPrice.LessThan(level.TriggerPrice(p.EntryPrice)) {
			return &Action{
				Level:       level.Level,
				FractionPct: level.SellFractionPct,
				Reason:      fmt.Sprintf("Take Profit %d (+%d%%)", level.Level, level.TriggerGainPct),
			}, true
		}
	}

	return nil, false
}

// stopLossPct renders the configured loss percentage for the scheduled
// sell's human-readable reason string.
func stopLossPct(entry, stop fixedpoint.Price) int {
	pct := fixedpoint.PnLPercent(entry, stop)
	f, _ := pct.Float64()
	if f < 0 {
		f = -f
	}
	return int(f + 0.5)
}

// PromoteStop computes the stop-loss price that should follow a confirmed
// fill of take-profit level n, per the N-level trailing-stop schedule:
// stop_loss_price = max(current stop, entry_price * n!). Promotion is
// monotonic: the result never falls below currentStop.
func PromoteStop(entry, currentStop fixedpoint.Price, level int) fixedpoint.Price {
	promoted := entry.MulInt(fixedpoint.Factorial(level))
	return fixedpoint.Max(currentStop, promoted)
}
