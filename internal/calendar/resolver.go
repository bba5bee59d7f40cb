// Package calendar resolves the rolling synchronization window of a market
// from the trading dates of its proxy index, caching each resolution per
// (market, ticker, as-of date).
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"limitboard/internal/domain"
)

// Window modes.
const (
	ModeTradingDays = "trading_days"
	ModeCalDays     = "cal_days"
)

// Stable error strings recorded in Window.Error.
const (
	ErrCalendarEmpty        = "calendar_empty"
	ErrCalendarFiltered     = "calendar_filtered_empty"
	ErrCalendarInsufficient = "calendar_insufficient_dates"
	errCalendarException    = "calendar_exception: "
)

// MinLookbackCalDays is the smallest lookback the resolver queries.
const MinLookbackCalDays = 30

// Window is a resolved date range. Start and End are inclusive;
// EndExclusive is End plus one day.
type Window struct {
	Market           string `json:"market"`
	CalendarTicker   string `json:"calendar_ticker"`
	AsOf             string `json:"asof_ymd"`
	LatestTradingDay string `json:"latest_ymd"`
	Start            string `json:"start_ymd"`
	End              string `json:"end_ymd"`
	EndExclusive     string `json:"end_excl_ymd"`
	Mode             string `json:"mode"`
	Error            string `json:"error,omitempty"`
	CachePath        string `json:"cache_path"`
}

// Request describes the window to resolve.
type Request struct {
	Market         string
	CalendarTicker string
	// AsOf is YYYY-MM-DD; empty means today in UTC.
	AsOf            string
	NTradingDays int
	// LookbackCalDays is how far back the date source is queried. Values
	// below MinLookbackCalDays are raised to it so that a short setting
	// still spans enough sessions for the five-date minimum.
	LookbackCalDays int
	FallbackCalDays int
}

// Key identifies one cached resolution.
type Key struct {
	Market string
	Ticker string
	AsOf   string
}

// DateSource lists the trading dates of a proxy ticker.
type DateSource interface {
	// Dates returns the dates with a daily row in [start, endExclusive).
	Dates(ctx context.Context, ticker, start, endExclusive string) ([]string, error)
}

// Cache stores resolved windows.
type Cache interface {
	Get(ctx context.Context, key Key) (Window, bool, error)
	Put(ctx context.Context, key Key, w Window) error
	// Locate describes where key is stored.
	Locate(key Key) string
}

// Resolver turns a Request into a Window. It never fails: problems with the
// date source are recorded in Window.Error and the window falls back to
// calendar days.
type Resolver struct {
	source DateSource
	cache  Cache
	log    *slog.Logger
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(source DateSource, cache Cache, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{source: source, cache: cache, log: log.With("component", "calendar")}
}

// Resolve returns the cached window for the request's key, or resolves and
// caches a new one.
func (r *Resolver) Resolve(ctx context.Context, req Request) Window {
	if req.AsOf == "" {
		req.AsOf = time.Now().UTC().Format(domain.DateLayout)
	}
	if req.NTradingDays < 1 {
		req.NTradingDays = 1
	}
	key := Key{Market: req.Market, Ticker: req.CalendarTicker, AsOf: req.AsOf}

	if r.cache != nil {
		w, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Warn("calendar cache read failed", "market", req.Market, "err", err)
		} else if ok && w.AsOf == req.AsOf {
			return w
		}
	}

	w := r.resolve(ctx, req)
	if r.cache != nil {
		w.CachePath = r.cache.Locate(key)
		if err := r.cache.Put(ctx, key, w); err != nil {
			r.log.Warn("calendar cache write failed", "market", req.Market, "err", err)
		}
	}

	r.log.Info("calendar window resolved",
		"market", req.Market,
		"asof", w.AsOf,
		"start", w.Start,
		"end", w.End,
		"mode", w.Mode,
		"calendar_error", w.Error,
	)
	return w
}

func (r *Resolver) resolve(ctx context.Context, req Request) Window {
	asOf, err := domain.ParseDate(req.AsOf)
	if err != nil {
		return fallback(req, fmt.Sprintf("%sbad asof %q", errCalendarException, req.AsOf), "")
	}
	lookback := max(MinLookbackCalDays, req.LookbackCalDays)
	start := asOf.AddDate(0, 0, -lookback).Format(domain.DateLayout)
	endExcl := asOf.AddDate(0, 0, 1).Format(domain.DateLayout)

	if r.source == nil {
		return fallback(req, ErrCalendarEmpty, "")
	}
	dates, err := r.source.Dates(ctx, req.CalendarTicker, start, endExcl)
	if err != nil {
		return fallback(req, errCalendarException+err.Error(), "")
	}
	if len(dates) == 0 {
		return fallback(req, ErrCalendarEmpty, "")
	}

	kept := dates[:0:0]
	for _, d := range dates {
		if d <= req.AsOf {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return fallback(req, ErrCalendarFiltered, "")
	}
	sort.Strings(kept)
	kept = slices.Compact(kept)
	latest := kept[len(kept)-1]

	if len(kept) < max(5, req.NTradingDays) {
		return fallback(req, ErrCalendarInsufficient, latest)
	}

	end := latest
	return Window{
		Market:           req.Market,
		CalendarTicker:   req.CalendarTicker,
		AsOf:             req.AsOf,
		LatestTradingDay: latest,
		Start:            kept[len(kept)-req.NTradingDays],
		End:              end,
		EndExclusive:     mustAddDays(end, 1),
		Mode:             ModeTradingDays,
	}
}

// fallback builds a calendar-day window ending at latest, or at the as-of
// date when no trading date is known.
func fallback(req Request, reason, latest string) Window {
	if latest == "" {
		latest = req.AsOf
	}
	return Window{
		Market:           req.Market,
		CalendarTicker:   req.CalendarTicker,
		AsOf:             req.AsOf,
		LatestTradingDay: latest,
		Start:            mustAddDays(latest, -req.FallbackCalDays),
		End:              latest,
		EndExclusive:     mustAddDays(latest, 1),
		Mode:             ModeCalDays,
		Error:            reason,
	}
}

func mustAddDays(ymd string, n int) string {
	d, err := domain.AddDays(ymd, n)
	if err != nil {
		return ymd
	}
	return d
}
