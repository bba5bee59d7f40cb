package util

import (
	"fmt"
	"time"
)

// MarketClock answers market-local date and session questions for one
// market.
type MarketClock struct {
	tzName string
	loc    *time.Location
	open   int // minutes after local midnight
	close  int
}

// NewMarketClock builds a clock for loc. sessionOpen and sessionClose are
// "HH:MM" in market-local time.
func NewMarketClock(tzName string, loc *time.Location, sessionOpen, sessionClose string) (*MarketClock, error) {
	open, err := parseHM(sessionOpen)
	if err != nil {
		return nil, err
	}
	cl, err := parseHM(sessionClose)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MarketClock{tzName: tzName, loc: loc, open: open, close: cl}, nil
}

func parseHM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse session time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the market's location.
func (c *MarketClock) Location() *time.Location { return c.loc }

// LocalDate returns the market-local YYYY-MM-DD of t moved back lagDays.
func (c *MarketClock) LocalDate(t time.Time, lagDays int) string {
	return t.In(c.loc).AddDate(0, 0, -lagDays).Format("2006-01-02")
}

// InSession reports whether t falls in [open, close) market-local time.
// Weekends and holidays are not considered.
func (c *MarketClock) InSession(t time.Time) bool {
	lt := t.In(c.loc)
	m := lt.Hour()*60 + lt.Minute()
	return m >= c.open && m < c.close
}

// TimeMeta is the market-local rendering of a build instant.
type TimeMeta struct {
	MarketTZ            string `json:"market_tz"`
	MarketTZOffset      string `json:"market_tz_offset"`
	MarketUTCOffset     string `json:"market_utc_offset"`
	MarketFinishedYMD   string `json:"market_finished_ymd"`
	MarketFinishedHM    string `json:"market_finished_hm"`
	MarketFinishedAt    string `json:"market_finished_at"`
	MarketFinishedAtISO string `json:"market_finished_at_iso"`
	MarketFinishedAtUTC string `json:"market_finished_at_utc"`
}

// TimeMeta renders now (any zone) in market-local terms.
func (c *MarketClock) TimeMeta(now time.Time) TimeMeta {
	utc := now.UTC()
	lt := utc.In(c.loc)
	_, off := lt.Zone()
	offset := FormatOffset(off)
	return TimeMeta{
		MarketTZ:            c.tzName,
		MarketTZOffset:      offset,
		MarketUTCOffset:     offset,
		MarketFinishedYMD:   lt.Format("2006-01-02"),
		MarketFinishedHM:    lt.Format("15:04"),
		MarketFinishedAt:    lt.Format("2006-01-02 15:04"),
		MarketFinishedAtISO: lt.Format(time.RFC3339),
		MarketFinishedAtUTC: utc.Format("2006-01-02T15:04:05Z"),
	}
}

// FormatOffset renders seconds east of UTC as "+08:00" / "-05:00".
func FormatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}
