// Package flags computes per-symbol daily limit flags and streaks with one
// ordered pass over each symbol's bars.
package flags

import (
	"context"
	"fmt"
	"sort"

	"limitboard/internal/domain"
	"limitboard/internal/limitrule"
	"limitboard/internal/store"
)

// StreakMode selects what makes a day count toward a streak.
type StreakMode string

const (
	// StreakTouch counts locked or touched-only days.
	StreakTouch StreakMode = "touch"
	// StreakClose counts locked days and closes at or above the streak
	// threshold.
	StreakClose StreakMode = "close"
)

// DailyFlags is the derived state of one symbol on one date.
type DailyFlags struct {
	Symbol     string
	Date       string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	PrevClose  float64
	Ret        float64
	RetHigh    float64
	LimitPrice float64
	Tag        string

	Locked      bool
	TouchedOnly bool
	// Theme marks a no-limit close move at or above the theme threshold.
	Theme bool
	// Hit marks a no-limit close move at or above the watch threshold.
	Hit bool

	Qualifies     bool
	QualifiesPrev bool
	Streak        int
	StreakPrev    int
}

// Source is the read side of the store the calculator needs.
type Source interface {
	TradingDates(ctx context.Context, asOf string, n int) ([]string, error)
	BarsBetween(ctx context.Context, start, end string) ([]domain.Bar, error)
}

// Options configures a Calculator.
type Options struct {
	Mode StreakMode
	// Threshold is the close return that qualifies a day in close mode.
	Threshold float64
}

// Calculator turns stored bars into DailyFlags for one market.
type Calculator struct {
	rule limitrule.Rule
	opts Options
	src  Source
}

// NewCalculator creates a Calculator. An empty mode means close mode.
func NewCalculator(rule limitrule.Rule, src Source, opts Options) *Calculator {
	if opts.Mode == "" {
		opts.Mode = StreakClose
	}
	return &Calculator{rule: rule, opts: opts, src: src}
}

// Rule returns the market's limit rule.
func (c *Calculator) Rule() limitrule.Rule { return c.rule }

// Scan walks one symbol's bars in date order and returns a DailyFlags per
// bar. Bars are sorted by date first; bars of other symbols are not
// expected.
func (c *Calculator) Scan(inst domain.Instrument, bars []domain.Bar) []DailyFlags {
	if len(bars) == 0 {
		return nil
	}
	if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date }) {
		bars = append([]domain.Bar(nil), bars...)
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	}

	out := make([]DailyFlags, len(bars))
	var (
		prevClose float64
		prevQual  bool
		run       int
	)
	for i, b := range bars {
		f := c.evaluate(inst, b, prevClose)
		f.QualifiesPrev = prevQual
		f.StreakPrev = run
		if f.Qualifies {
			run++
		} else {
			run = 0
		}
		f.Streak = run
		out[i] = f

		prevClose = b.Close
		prevQual = f.Qualifies
	}
	return out
}

// evaluate fills the per-day fields that depend only on this bar and the
// previous close.
func (c *Calculator) evaluate(inst domain.Instrument, b domain.Bar, prevClose float64) DailyFlags {
	f := DailyFlags{
		Symbol:    b.Symbol,
		Date:      b.Date,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		PrevClose: prevClose,
		Tag:       c.rule.Tag(inst),
	}
	if prevClose <= 0 || b.Close <= 0 {
		return f
	}
	high := b.High
	if high < b.Close {
		high = b.Close
	}
	f.Ret = limitrule.Return(prevClose, b.Close)
	f.RetHigh = limitrule.Return(prevClose, high)

	nl, ok := c.rule.(*limitrule.NoLimitRule)
	if ex, isEx := c.rule.(limitrule.Exempter); isEx && !ok {
		nl, ok = ex.Unlimited(inst)
	}
	if ok {
		f.Hit = nl.Hit(prevClose, b.Close)
		f.Theme = nl.Theme(prevClose, b.Close)
		f.TouchedOnly = !f.Hit && nl.Touched(prevClose, high)
		switch c.opts.Mode {
		case StreakTouch:
			f.Qualifies = f.Hit || f.TouchedOnly
		default:
			f.Qualifies = limitrule.AtLeast(f.Ret, c.opts.Threshold) && nl.Gate.Pass(prevClose, b.Close)
		}
		return f
	}

	limit, ok := c.rule.LimitPrice(inst, prevClose)
	if !ok {
		return f
	}
	f.LimitPrice = limit
	st := limitrule.Classify(b.Close, high, limit)
	f.Locked = st.Locked
	f.TouchedOnly = st.TouchedOnly
	switch c.opts.Mode {
	case StreakTouch:
		f.Qualifies = f.Locked || f.TouchedOnly
	default:
		f.Qualifies = f.Locked || (c.opts.Threshold > 0 && limitrule.AtLeast(f.Ret, c.opts.Threshold))
	}
	return f
}

// ComputeMarket loads the last lookback+1 shared trading dates on or
// before asOf, scans every symbol once and returns each symbol's flags on
// asOf. Symbols without a bar on asOf are absent from the result.
func (c *Calculator) ComputeMarket(ctx context.Context, asOf string, lookback int, insts map[string]domain.Instrument) (map[string]DailyFlags, error) {
	bars, err := c.window(ctx, asOf, lookback)
	if err != nil {
		return nil, err
	}

	out := make(map[string]DailyFlags)
	for start := 0; start < len(bars); {
		end := start + 1
		for end < len(bars) && bars[end].Symbol == bars[start].Symbol {
			end++
		}
		sym := bars[start].Symbol
		series := c.Scan(lookupInstrument(insts, sym), bars[start:end])
		if last := series[len(series)-1]; last.Date == asOf {
			out[sym] = last
		}
		start = end
	}
	return out, nil
}

// ComputeFlags returns one symbol's flags on asOf. ok is false when the
// symbol has no bar on asOf.
func (c *Calculator) ComputeFlags(ctx context.Context, inst domain.Instrument, asOf string, lookback int) (DailyFlags, bool, error) {
	bars, err := c.window(ctx, asOf, lookback)
	if err != nil {
		return DailyFlags{}, false, err
	}
	var own []domain.Bar
	for _, b := range bars {
		if b.Symbol == inst.Symbol {
			own = append(own, b)
		}
	}
	series := c.Scan(inst, own)
	if len(series) == 0 || series[len(series)-1].Date != asOf {
		return DailyFlags{}, false, nil
	}
	return series[len(series)-1], true, nil
}

// window returns bars over the last lookback+1 trading dates on or before
// asOf, ordered by (symbol, date).
func (c *Calculator) window(ctx context.Context, asOf string, lookback int) ([]domain.Bar, error) {
	if lookback < 1 {
		lookback = 1
	}
	dates, err := c.src.TradingDates(ctx, asOf, lookback+1)
	if err != nil {
		return nil, fmt.Errorf("loading trading dates: %w", err)
	}
	if len(dates) == 0 {
		return nil, store.ErrNoData
	}
	bars, err := c.src.BarsBetween(ctx, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, fmt.Errorf("loading bars: %w", err)
	}
	return bars, nil
}

func lookupInstrument(insts map[string]domain.Instrument, sym string) domain.Instrument {
	if inst, ok := insts[sym]; ok {
		return inst
	}
	return domain.Instrument{Symbol: sym}
}
