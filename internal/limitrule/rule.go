// Package limitrule implements the per-market daily price-limit rules: the
// limit price for a previous close and the locked / touched-only
// classification against it.
package limitrule

import (
	"limitboard/internal/domain"
)

// Epsilon absorbs rounding noise when comparing a tick-rounded price against
// a limit price. It is in price units and must stay non-zero.
const Epsilon = 1e-4

// retTolerance keeps ret >= threshold stable when ret is an inexact
// quotient (0.33/0.30 - 1).
const retTolerance = 1e-9

// Kind names a rule family.
type Kind string

const (
	KindTieredAmount Kind = "tiered_amount"
	KindFlatPercent  Kind = "flat_percent"
	KindNoLimit      Kind = "no_limit"
)

// Rule is the uniform contract every market's limit rule satisfies.
type Rule interface {
	// Kind reports the rule family.
	Kind() Kind

	// LimitPrice returns the limit-up price for the given previous close.
	// ok is false when the market has no limit or prevClose is unusable.
	LimitPrice(inst domain.Instrument, prevClose float64) (price float64, ok bool)

	// Tag returns the board / category tag the rule applied to inst.
	Tag(inst domain.Instrument) string
}

// Exempter is implemented by rules that let some instruments trade without
// a limit. Those instruments are classified like a no-limit market.
type Exempter interface {
	Unlimited(inst domain.Instrument) (*NoLimitRule, bool)
}

var _ Exempter = (*FlatPercentRule)(nil)

// Status is the outcome of classifying one bar against its limit price.
type Status struct {
	Locked      bool
	TouchedOnly bool
}

// Classify compares close and high with limit. Locked and TouchedOnly are
// never both true. A non-positive limit yields the zero Status.
func Classify(close, high, limit float64) Status {
	if limit <= 0 {
		return Status{}
	}
	locked := close >= limit-Epsilon
	return Status{
		Locked:      locked,
		TouchedOnly: !locked && high >= limit-Epsilon,
	}
}

// Return is price/prevClose - 1, or 0 when prevClose is not positive.
func Return(prevClose, price float64) float64 {
	if prevClose <= 0 || price <= 0 {
		return 0
	}
	return price/prevClose - 1
}

// AtLeast reports ret >= threshold, tolerant of float noise.
func AtLeast(ret, threshold float64) bool {
	return ret >= threshold-retTolerance
}
