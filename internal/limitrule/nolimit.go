package limitrule

import (
	"github.com/shopspring/decimal"

	"limitboard/internal/domain"
)

var _ Rule = (*NoLimitRule)(nil)

// NoiseGate suppresses moves too small to mean anything on low-priced
// instruments. A zero gate passes every up-move.
type NoiseGate struct {
	// PennyPriceMax marks instruments whose previous close is below it as
	// penny instruments subject to MinTicks.
	PennyPriceMax float64
	// Ticks gives the tick size at a price.
	Ticks    TickTable
	MinTicks int
	// MinAbsMove is the smallest absolute price move counted, for every
	// instrument.
	MinAbsMove float64
}

// Pass reports whether the up-move from prevClose to price clears the gate.
func (g NoiseGate) Pass(prevClose, price float64) bool {
	if prevClose <= 0 || price <= prevClose {
		return false
	}
	if g.MinAbsMove > 0 {
		move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(prevClose))
		if move.LessThan(decimal.NewFromFloat(g.MinAbsMove)) {
			return false
		}
	}
	if g.MinTicks > 0 && g.PennyPriceMax > 0 && prevClose < g.PennyPriceMax {
		tick := g.Ticks.SizeAt(prevClose)
		if tick > 0 && TicksBetween(prevClose, price, tick) < int64(g.MinTicks) {
			return false
		}
	}
	return true
}

// NoLimitRule stands in for markets without a daily limit. It has no limit
// price; classification uses return thresholds behind a noise gate.
type NoLimitRule struct {
	// Threshold is the close return for a watchlist mover and for
	// close-mode streaks.
	Threshold float64
	// TouchThreshold is the high return for a touched-only day.
	TouchThreshold float64
	// ThemeThreshold is the close return that promotes a mover into the
	// limit list.
	ThemeThreshold float64
	Gate           NoiseGate
}

func (r *NoLimitRule) Kind() Kind { return KindNoLimit }

func (r *NoLimitRule) LimitPrice(domain.Instrument, float64) (float64, bool) { return 0, false }

func (r *NoLimitRule) Tag(domain.Instrument) string { return "" }

// Hit reports a gated close move of at least Threshold.
func (r *NoLimitRule) Hit(prevClose, close float64) bool {
	return r.gated(prevClose, close, r.Threshold)
}

// Touched reports a gated intraday high of at least TouchThreshold.
func (r *NoLimitRule) Touched(prevClose, high float64) bool {
	return r.gated(prevClose, high, r.TouchThreshold)
}

// Theme reports a gated close move of at least ThemeThreshold.
func (r *NoLimitRule) Theme(prevClose, close float64) bool {
	if r.ThemeThreshold <= 0 {
		return false
	}
	return r.gated(prevClose, close, r.ThemeThreshold)
}

func (r *NoLimitRule) gated(prevClose, price, threshold float64) bool {
	if prevClose <= 0 || price <= 0 {
		return false
	}
	return AtLeast(Return(prevClose, price), threshold) && r.Gate.Pass(prevClose, price)
}
