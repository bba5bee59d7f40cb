package limitrule

import (
	"github.com/shopspring/decimal"

	"limitboard/internal/domain"
)

var _ Rule = (*TieredAmountRule)(nil)

// AmountBand adds Amount to previous closes strictly below Below.
type AmountBand struct {
	Below  float64
	Amount float64
}

// TieredAmountRule sets the limit at prevClose plus a fixed amount looked
// up from prevClose bands.
type TieredAmountRule struct {
	Bands     []AmountBand
	TopAmount float64
}

// JapanBands is the Tokyo Stock Exchange daily limit table.
var JapanBands = []AmountBand{
	{100, 30}, {200, 50}, {500, 80}, {700, 100}, {1000, 150},
	{1500, 300}, {2000, 400}, {3000, 500}, {5000, 700}, {7000, 1000},
	{10000, 1500}, {15000, 3000}, {20000, 4000}, {30000, 5000},
	{50000, 7000}, {70000, 10000}, {100000, 15000}, {150000, 30000},
	{200000, 40000}, {300000, 50000}, {500000, 70000}, {700000, 100000},
	{1000000, 150000}, {1500000, 300000},
}

// NewJapanRule returns the tiered rule with the Tokyo table.
func NewJapanRule() *TieredAmountRule {
	return &TieredAmountRule{Bands: JapanBands, TopAmount: 300000}
}

func (r *TieredAmountRule) Kind() Kind { return KindTieredAmount }

// Amount returns the band amount for prevClose.
func (r *TieredAmountRule) Amount(prevClose float64) float64 {
	for _, b := range r.Bands {
		if prevClose < b.Below {
			return b.Amount
		}
	}
	return r.TopAmount
}

func (r *TieredAmountRule) LimitPrice(_ domain.Instrument, prevClose float64) (float64, bool) {
	if prevClose <= 0 {
		return 0, false
	}
	p, _ := decimal.NewFromFloat(prevClose).Add(decimal.NewFromFloat(r.Amount(prevClose))).Float64()
	return p, true
}

func (r *TieredAmountRule) Tag(domain.Instrument) string { return "" }
