package config

import (
	"fmt"
	"sort"
	"time"
)

// MarketConfig holds everything one market's pipeline needs. It is read
// once at startup and shared by the resolver, synchronizer, flag
// calculator, snapshot builder and aggregator.
type MarketConfig struct {
	// Code is the map key ("us", "cn", ...); it is filled by the loader.
	Code    string `yaml:"-" validate:"required"`
	Enabled bool   `yaml:"enabled"`

	Timezone string `yaml:"timezone" validate:"required"`
	// FallbackUTCOffset is used when Timezone cannot be loaded ("+08:00").
	FallbackUTCOffset string `yaml:"fallback_utc_offset" default:"+00:00"`
	SessionOpen       string `yaml:"session_open" default:"09:30"`
	SessionClose      string `yaml:"session_close" default:"16:00"`
	// LagDays shifts the default as-of date back from the market-local today.
	LagDays int `yaml:"lag_days" validate:"gte=0"`

	CalendarTicker string `yaml:"calendar_ticker"`
	// Provider selects the bar source: yahoo or alpaca.
	Provider string `yaml:"provider" default:"yahoo" validate:"oneof=yahoo alpaca"`
	// TickerSuffix is appended to universe symbols when talking to Yahoo.
	TickerSuffix string `yaml:"ticker_suffix"`

	DBPath       string `yaml:"db_path"`
	SkiplistPath string `yaml:"skiplist_path"`

	Window    WindowConfig     `yaml:"window"`
	Sync      SyncConfig       `yaml:"sync"`
	Rule      RuleConfig       `yaml:"rule"`
	Streak    StreakConfig     `yaml:"streak"`
	Overrides []OverrideConfig `yaml:"overrides" validate:"dive"`

	// FlagLookbackDays is the trading-day history scanned per snapshot.
	FlagLookbackDays int `yaml:"flag_lookback_days" default:"20" validate:"gt=0"`

	// Cron schedules the close-slot sync+snapshot in the server, in
	// market-local time. Empty disables it.
	Cron string `yaml:"cron"`
	// MiddayCron schedules an intraday midday-slot snapshot.
	MiddayCron string `yaml:"midday_cron"`
}

// WindowConfig sizes the rolling sync window.
type WindowConfig struct {
	RollingTradingDays int `yaml:"rolling_trading_days" default:"30" validate:"gte=1"`
	LookbackCalDays    int `yaml:"lookback_cal_days" default:"180" validate:"gte=1"`
	FallbackCalDays    int `yaml:"fallback_cal_days" default:"90" validate:"gte=1"`
}

// SyncConfig tunes batching, throttling and retries of the synchronizer.
type SyncConfig struct {
	BatchSize      int           `yaml:"batch_size" default:"80" validate:"gte=1"`
	BatchSleep     time.Duration `yaml:"batch_sleep" default:"150ms"`
	FallbackSingle bool          `yaml:"fallback_single"`
	SingleSleep    time.Duration `yaml:"single_sleep" default:"50ms"`
	MaxRetries     int           `yaml:"max_retries" default:"2" validate:"gte=0"`
	// RetryEmptySleep follows an empty single-symbol result.
	RetryEmptySleep time.Duration `yaml:"retry_empty_sleep" default:"1200ms"`
	// RetryErrorSleep follows a failed single-symbol request.
	RetryErrorSleep time.Duration `yaml:"retry_error_sleep" default:"1800ms"`
	// Threads bounds concurrent symbol requests inside one batch.
	Threads int `yaml:"threads" default:"4" validate:"gte=1"`
}

// RuleConfig describes a limit rule. Builtin names a packaged rule
// (jp_tse, cn_ashare, tw_twse, kr_krx); otherwise Kind and its parameters
// are used.
type RuleConfig struct {
	Builtin string `yaml:"builtin" validate:"omitempty,oneof=jp_tse cn_ashare tw_twse kr_krx"`
	Kind    string `yaml:"kind" default:"no_limit" validate:"oneof=tiered_amount flat_percent no_limit"`

	// tiered_amount
	AmountBands []BandConfig `yaml:"amount_bands"`
	TopAmount   float64      `yaml:"top_amount"`

	// flat_percent
	Percent        float64       `yaml:"percent"`
	DefaultTag     string        `yaml:"default_tag"`
	Boards         []BoardConfig `yaml:"boards"`
	SpecialPattern string        `yaml:"special_pattern"`
	SpecialPercent float64       `yaml:"special_percent"`
	SpecialTag     string        `yaml:"special_tag"`
	Rounding       string        `yaml:"rounding" validate:"omitempty,oneof=none half_up_cent tick_floor"`

	// OpenLimitDetails (market_detail values) and OpenLimitSymbols exempt
	// instruments from a flat_percent limit. They are classified with the
	// no_limit thresholds instead.
	OpenLimitDetails []string `yaml:"open_limit_details"`
	OpenLimitSymbols []string `yaml:"open_limit_symbols"`

	// Ticks is shared by tick_floor rounding and the no_limit noise gate.
	Ticks   []BandConfig `yaml:"ticks"`
	TopTick float64      `yaml:"top_tick"`

	// no_limit
	Threshold      float64 `yaml:"threshold" default:"0.10" validate:"gt=0"`
	TouchThreshold float64 `yaml:"touch_threshold" default:"0.10" validate:"gt=0"`
	ThemeThreshold float64 `yaml:"theme_threshold" validate:"gte=0"`
	PennyPriceMax  float64 `yaml:"penny_price_max" validate:"gte=0"`
	MinTicks       int     `yaml:"min_ticks" validate:"gte=0"`
	MinAbsMove     float64 `yaml:"min_abs_move" validate:"gte=0"`
}

// BandConfig is one "below price -> value" table entry.
type BandConfig struct {
	Below float64 `yaml:"below" validate:"gt=0"`
	Value float64 `yaml:"value" validate:"gt=0"`
}

// BoardConfig is a code-prefix board with its own percentage.
type BoardConfig struct {
	Tag      string   `yaml:"tag" validate:"required"`
	Prefixes []string `yaml:"prefixes" validate:"min=1"`
	Percent  float64  `yaml:"percent" validate:"gt=0"`
}

// StreakConfig selects what extends a streak.
type StreakConfig struct {
	// Mode is touch (locked or touched-only) or close (locked or a
	// threshold close move).
	Mode      string  `yaml:"mode" default:"close" validate:"oneof=touch close"`
	Threshold float64 `yaml:"threshold" default:"0.10" validate:"gt=0"`
}

// OverrideConfig is a named sector metric that drops rows carrying
// ExcludeTag.
type OverrideConfig struct {
	Name       string `yaml:"name" validate:"required"`
	Metric     string `yaml:"metric" validate:"oneof=locked touch bigmove"`
	ExcludeTag string `yaml:"exclude_tag"`
}

// NoLimit reports whether the market has no daily price limit.
func (m *MarketConfig) NoLimit() bool {
	return m.Rule.Builtin == "" && m.Rule.Kind == "no_limit"
}

// Location resolves Timezone, falling back to the fixed offset.
func (m *MarketConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(m.Timezone); err == nil {
		return loc
	}
	off, err := ParseUTCOffset(m.FallbackUTCOffset)
	if err != nil {
		return time.UTC
	}
	return time.FixedZone(m.FallbackUTCOffset, off)
}

// ParseUTCOffset turns "+05:30" / "-05:00" into seconds east of UTC.
func ParseUTCOffset(s string) (int, error) {
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return 0, fmt.Errorf("parse utc offset %q: %w", s, err)
	}
	_, off := t.Zone()
	return off, nil
}

// ---------------------------------------------------------------------------
// Presets
// ---------------------------------------------------------------------------

var presets = map[string]func() *MarketConfig{
	"us": func() *MarketConfig {
		m := base("us", "America/New_York", "-05:00", "09:30", "16:00", "^GSPC")
		m.LagDays = 1
		m.Rule = noLimit(0.30)
		m.Rule.PennyPriceMax = 1
		m.Rule.Ticks = []BandConfig{{1, 0.0001}}
		m.Rule.TopTick = 0.01
		m.Rule.MinTicks = 3
		return m
	},
	"ca": func() *MarketConfig {
		m := base("ca", "America/Toronto", "-05:00", "09:30", "16:00", "^GSPTSE")
		m.LagDays = 1
		m.TickerSuffix = ".TO"
		m.Rule = noLimit(0.30)
		m.Rule.MinAbsMove = 0.02
		return m
	},
	"uk": func() *MarketConfig {
		m := base("uk", "Europe/London", "+00:00", "08:00", "16:30", "^FTSE")
		m.TickerSuffix = ".L"
		m.Rule = noLimit(0.30)
		return m
	},
	"au": func() *MarketConfig {
		m := base("au", "Australia/Sydney", "+10:00", "10:00", "16:00", "^AXJO")
		m.TickerSuffix = ".AX"
		m.Rule = noLimit(0.30)
		m.Rule.PennyPriceMax = 0.20
		m.Rule.Ticks = []BandConfig{{0.10, 0.001}, {2, 0.005}}
		m.Rule.TopTick = 0.01
		m.Rule.MinTicks = 3
		return m
	},
	"tw": func() *MarketConfig {
		m := base("tw", "Asia/Taipei", "+08:00", "09:00", "13:30", "^TWII")
		m.Rule = RuleConfig{Builtin: "tw_twse", OpenLimitDetails: []string{"emerging"}}
		m.Streak.Mode = "touch"
		return m
	},
	"cn": func() *MarketConfig {
		m := base("cn", "Asia/Shanghai", "+08:00", "09:30", "15:00", "000001.SS")
		m.Rule = RuleConfig{Builtin: "cn_ashare"}
		m.Streak.Mode = "touch"
		m.Overrides = []OverrideConfig{{Name: "locked_non_st", Metric: "locked", ExcludeTag: "st"}}
		return m
	},
	"jp": func() *MarketConfig {
		m := base("jp", "Asia/Tokyo", "+09:00", "09:00", "15:30", "^N225")
		m.TickerSuffix = ".T"
		m.Rule = RuleConfig{Builtin: "jp_tse"}
		m.Streak.Mode = "touch"
		return m
	},
	"kr": func() *MarketConfig {
		m := base("kr", "Asia/Seoul", "+09:00", "09:00", "15:30", "^KS11")
		m.Rule = RuleConfig{Builtin: "kr_krx"}
		m.Streak.Mode = "touch"
		return m
	},
	"hk": func() *MarketConfig {
		m := base("hk", "Asia/Hong_Kong", "+08:00", "09:30", "16:00", "^HSI")
		m.TickerSuffix = ".HK"
		m.Rule = noLimit(0.30)
		m.Rule.PennyPriceMax = 0.50
		m.Rule.Ticks = []BandConfig{{0.25, 0.001}, {0.50, 0.005}, {10, 0.01}}
		m.Rule.TopTick = 0.02
		m.Rule.MinTicks = 3
		return m
	},
	"th": func() *MarketConfig {
		m := base("th", "Asia/Bangkok", "+07:00", "10:00", "16:30", "^SET.BK")
		m.TickerSuffix = ".BK"
		m.Rule = noLimit(0.30)
		m.Rule.PennyPriceMax = 0.15
		m.Rule.Ticks = []BandConfig{{2, 0.01}}
		m.Rule.TopTick = 0.02
		m.Rule.MinTicks = 3
		return m
	},
	"in": func() *MarketConfig {
		m := base("in", "Asia/Kolkata", "+05:30", "09:15", "15:30", "^NSEI")
		m.TickerSuffix = ".NS"
		m.Rule = noLimit(0.30)
		m.Rule.PennyPriceMax = 20
		m.Rule.TopTick = 0.05
		m.Rule.MinTicks = 3
		return m
	},
}

func base(code, tz, offset, open, close, ticker string) *MarketConfig {
	return &MarketConfig{
		Code:              code,
		Enabled:           true,
		Timezone:          tz,
		FallbackUTCOffset: offset,
		SessionOpen:       open,
		SessionClose:      close,
		CalendarTicker:    ticker,
		Sync:              SyncConfig{FallbackSingle: true},
		Streak:            StreakConfig{Mode: "close"},
	}
}

func noLimit(theme float64) RuleConfig {
	return RuleConfig{Kind: "no_limit", Threshold: 0.10, TouchThreshold: 0.10, ThemeThreshold: theme}
}

// Preset returns a fresh copy of the built-in configuration for code. An
// unknown code gets a bare enabled market that still needs a timezone.
func Preset(code string) *MarketConfig {
	if fn, ok := presets[code]; ok {
		return fn()
	}
	return &MarketConfig{
		Code:    code,
		Enabled: true,
		Sync:    SyncConfig{FallbackSingle: true},
	}
}

// PresetCodes lists the built-in market codes in sorted order.
func PresetCodes() []string {
	codes := make([]string, 0, len(presets))
	for code := range presets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
