// Package snapshot builds the full-universe row set of one market for its
// effective trading day.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"limitboard/internal/domain"
	"limitboard/internal/flags"
	"limitboard/internal/store"
	"limitboard/internal/util"
)

// Slots a snapshot may be built for.
const (
	SlotMidday = "midday"
	SlotClose  = "close"
)

// NoteNoPriceData prefixes the note of an empty snapshot.
const NoteNoPriceData = "no_price_data_on_or_before"

// Row is one instrument's state on the effective day.
type Row struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Sector       string  `json:"sector"`
	Market       string  `json:"market"`
	MarketDetail string  `json:"market_detail"`
	Tag          string  `json:"tag,omitempty"`
	BarDate      string  `json:"bar_date,omitempty"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       int64   `json:"volume"`
	PrevClose    float64 `json:"prev_close"`
	Ret          float64 `json:"ret"`
	RetHigh      float64 `json:"touch_ret"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	Locked       bool    `json:"is_limitup_locked"`
	TouchedOnly  bool    `json:"touched_only"`
	Theme        bool    `json:"theme,omitempty"`
	Hit          bool    `json:"hit,omitempty"`
	Streak       int     `json:"streak"`
	StreakPrev   int     `json:"streak_prev"`
	HitPrev      bool    `json:"hit_prev"`
	HasBar       bool    `json:"has_bar"`
}

// Snapshot is the unit of output for one market and day.
type Snapshot struct {
	Market      string        `json:"market"`
	Slot        string        `json:"slot"`
	Requested   string        `json:"ymd"`
	Effective   string        `json:"ymd_effective"`
	GeneratedAt time.Time     `json:"generated_at"`
	NoLimit     bool          `json:"no_limit"`
	MarketOpen  bool          `json:"market_open"`
	Empty       bool          `json:"empty"`
	Note        string        `json:"note,omitempty"`
	Time        util.TimeMeta `json:"time"`
	Rows        []Row         `json:"rows"`
}

// Source is the store surface the builder reads.
type Source interface {
	LatestDateWithClose(ctx context.Context, asOf string) (string, error)
	CountOn(ctx context.Context, date string) (int, error)
	PriceSymbols(ctx context.Context) ([]string, error)
	Instruments(ctx context.Context) ([]domain.Instrument, error)
}

// Options configures a Builder.
type Options struct {
	Market  string
	Slot    string
	NoLimit bool
	// Lookback is the number of trading days scanned for streaks.
	Lookback int
}

// Builder assembles snapshots for one market.
type Builder struct {
	opts  Options
	calc  *flags.Calculator
	src   Source
	clock *util.MarketClock
	log   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(calc *flags.Calculator, src Source, clock *util.MarketClock, opts Options, log *slog.Logger) *Builder {
	if opts.Slot == "" {
		opts.Slot = SlotClose
	}
	if opts.Lookback < 1 {
		opts.Lookback = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		opts:  opts,
		calc:  calc,
		src:   src,
		clock: clock,
		log:   log.With("market", opts.Market, "component", "snapshot"),
		now:   time.Now,
	}
}

// Build returns the snapshot for the latest day with prices on or before
// requested (YYYY-MM-DD; empty means the market-local today). When the
// store has no such day the snapshot is Empty with a Note and no error.
func (b *Builder) Build(ctx context.Context, requested string) (*Snapshot, error) {
	now := b.now().UTC()
	if requested == "" {
		requested = b.clock.LocalDate(now, 0)
	}
	snap := &Snapshot{
		Market:      b.opts.Market,
		Slot:        b.opts.Slot,
		Requested:   requested,
		GeneratedAt: now,
		NoLimit:     b.opts.NoLimit,
		Time:        b.clock.TimeMeta(now),
	}

	eff, err := b.src.LatestDateWithClose(ctx, requested)
	if errors.Is(err, store.ErrNoData) {
		snap.Empty = true
		snap.Effective = requested
		snap.Note = NoteNoPriceData + " " + requested
		b.log.Warn("no price data", "requested", requested)
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding effective day: %w", err)
	}
	snap.Effective = eff

	insts, err := b.src.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading instruments: %w", err)
	}
	byInst := make(map[string]domain.Instrument, len(insts))
	for _, in := range insts {
		byInst[in.Symbol] = in
	}

	fl, err := b.calc.ComputeMarket(ctx, eff, b.opts.Lookback, byInst)
	if err != nil {
		return nil, fmt.Errorf("computing flags for %s: %w", eff, err)
	}

	rows := make([]Row, 0, len(insts))
	for _, in := range insts {
		f, ok := fl[in.Symbol]
		rows = append(rows, b.row(in, f, ok))
	}

	priced, err := b.src.PriceSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading price symbols: %w", err)
	}
	var orphans int
	for _, sym := range priced {
		if _, ok := byInst[sym]; ok {
			continue
		}
		f, ok := fl[sym]
		rows = append(rows, b.row(domain.Instrument{Symbol: sym}, f, ok))
		orphans++
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	snap.Rows = rows

	if b.opts.NoLimit {
		snap.MarketOpen = b.marketOpen(ctx, now)
	}

	b.log.Info("snapshot built",
		"requested", requested,
		"effective", eff,
		"rows", len(rows),
		"with_bar", len(fl),
		"unknown_meta", orphans,
		"market_open", snap.MarketOpen,
	)
	return snap, nil
}

// marketOpen is a best-effort signal: today's local date has rows and the
// local time is inside the session.
func (b *Builder) marketOpen(ctx context.Context, now time.Time) bool {
	today := b.clock.LocalDate(now, 0)
	n, err := b.src.CountOn(ctx, today)
	if err != nil {
		b.log.Debug("market open check failed", "err", err)
		return false
	}
	return n > 0 && b.clock.InSession(now)
}

func (b *Builder) row(in domain.Instrument, f flags.DailyFlags, hasBar bool) Row {
	name := in.Name
	if name == "" {
		name = domain.UnknownLabel
	}
	detail := in.MarketDetail
	if detail == "" {
		detail = domain.UnknownLabel
	}
	r := Row{
		Symbol:       in.Symbol,
		Name:         name,
		Sector:       in.SectorOrUnknown(),
		Market:       domain.Market(b.opts.Market).Upper(),
		MarketDetail: detail,
		Tag:          b.calc.Rule().Tag(in),
	}
	if !hasBar {
		return r
	}
	r.BarDate = f.Date
	r.Open, r.High, r.Low, r.Close = f.Open, f.High, f.Low, f.Close
	r.Volume = f.Volume
	r.PrevClose = f.PrevClose
	r.Ret = f.Ret
	r.RetHigh = f.RetHigh
	r.LimitPrice = f.LimitPrice
	r.Locked = f.Locked
	r.TouchedOnly = f.TouchedOnly
	r.Theme = f.Theme
	r.Hit = f.Hit
	r.Streak = f.Streak
	r.StreakPrev = f.StreakPrev
	r.HitPrev = f.QualifiesPrev
	r.HasBar = true
	return r
}

// Records converts the snapshot to archive records.
func (s *Snapshot) Records() []store.SnapshotRecord {
	out := make([]store.SnapshotRecord, 0, len(s.Rows))
	for _, r := range s.Rows {
		out = append(out, store.SnapshotRecord{
			Market:       s.Market,
			Date:         s.Effective,
			Slot:         s.Slot,
			Symbol:       r.Symbol,
			Name:         r.Name,
			Sector:       r.Sector,
			MarketDetail: r.MarketDetail,
			Tag:          r.Tag,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			PrevClose:    r.PrevClose,
			Ret:          r.Ret,
			RetHigh:      r.RetHigh,
			LimitPrice:   r.LimitPrice,
			Locked:       r.Locked,
			TouchedOnly:  r.TouchedOnly,
			Streak:       int32(r.Streak),
			StreakPrev:   int32(r.StreakPrev),
		})
	}
	return out
}

// Key is the archive key of the snapshot.
func (s *Snapshot) Key() store.SnapshotKey {
	return store.SnapshotKey{Market: s.Market, Date: s.Effective, Slot: s.Slot}
}
