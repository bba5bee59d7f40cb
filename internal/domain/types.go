// Package domain holds the value types shared by every stage of the
// pipeline: markets, instruments and daily bars.
package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for every stored and
// exchanged date.
const DateLayout = "2006-01-02"

// Market identifies a national market by its lower-case code.
type Market string

const (
	MarketUS Market = "us"
	MarketCA Market = "ca"
	MarketUK Market = "uk"
	MarketAU Market = "au"
	MarketTW Market = "tw"
	MarketCN Market = "cn"
	MarketJP Market = "jp"
	MarketKR Market = "kr"
	MarketHK Market = "hk"
	MarketTH Market = "th"
	MarketIN Market = "in"
)

// ParseMarket normalises a market code ("US", " cn ") to a Market.
func ParseMarket(s string) Market {
	return Market(strings.ToLower(strings.TrimSpace(s)))
}

// String returns the market code.
func (m Market) String() string { return string(m) }

// Upper returns the upper-case display code ("US").
func (m Market) Upper() string { return strings.ToUpper(string(m)) }

// Bar is one daily OHLCV bar keyed by (Symbol, Date).
type Bar struct {
	Symbol string
	Date   string // YYYY-MM-DD
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Valid reports whether the bar may be persisted: it needs a symbol, a date
// and a positive close.
func (b Bar) Valid() bool {
	return b.Symbol != "" && b.Date != "" && b.Close > 0
}

// Instrument is the static metadata of one listed symbol.
type Instrument struct {
	Symbol       string
	Name         string
	Sector       string
	Market       Market
	MarketDetail string
	UpdatedAt    time.Time
}

// UnknownLabel fills blank names and sectors.
const UnknownLabel = "Unknown"

// SectorOrUnknown returns the sector, or UnknownLabel when it is blank.
func (i Instrument) SectorOrUnknown() string {
	if s := strings.TrimSpace(i.Sector); s != "" {
		return s
	}
	return UnknownLabel
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(ymd string, n int) (string, error) {
	t, err := ParseDate(ymd)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}
