package limitrule

import (
	"github.com/shopspring/decimal"
)

// TickBand is one price band of a tick-size table: prices strictly below
// Below move in steps of Size.
type TickBand struct {
	Below float64
	Size  float64
}

// TickTable maps a price to its tick size. Bands are checked in order; Top
// applies above the last band.
type TickTable struct {
	Bands []TickBand
	Top   float64
}

// SizeAt returns the tick size for price, or 0 when the table is empty.
func (t TickTable) SizeAt(price float64) float64 {
	for _, b := range t.Bands {
		if price < b.Below {
			return b.Size
		}
	}
	return t.Top
}

// Empty reports whether the table has no bands and no top size.
func (t TickTable) Empty() bool {
	return len(t.Bands) == 0 && t.Top == 0
}

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	s := decimal.NewFromFloat(tick)
	f, _ := p.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundHalfUp rounds price to places decimals, halves away from zero.
func RoundHalfUp(price float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(price).Round(places).Float64()
	return f
}

// TicksBetween counts whole ticks in the move from a to b (b > a).
func TicksBetween(a, b, tick float64) int64 {
	if tick <= 0 || b <= a {
		return 0
	}
	move := decimal.NewFromFloat(b).Sub(decimal.NewFromFloat(a))
	return move.Div(decimal.NewFromFloat(tick)).Round(8).Floor().IntPart()
}
