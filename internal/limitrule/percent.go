package limitrule

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"limitboard/internal/domain"
)

var _ Rule = (*FlatPercentRule)(nil)

// Rounding selects how a percentage limit is snapped to a quotable price.
type Rounding string

const (
	RoundNone       Rounding = "none"
	RoundHalfUpCent Rounding = "half_up_cent"
	RoundTickFloor  Rounding = "tick_floor"
)

// Board is a category with its own percentage, matched by code prefix.
type Board struct {
	Tag      string
	Prefixes []string
	Percent  float64
}

// FlatPercentRule sets the limit at prevClose * (1 + percent). The percent
// comes from, in order: the special-treatment name pattern, the first
// board whose prefix matches the symbol code, the default.
type FlatPercentRule struct {
	Percent        float64
	DefaultTag     string
	Boards         []Board
	Special        *regexp.Regexp
	SpecialPercent float64
	SpecialTag     string
	Rounding       Rounding
	Ticks          TickTable

	// OpenLimit, when set, classifies instruments whose market detail is
	// in OpenDetails or whose symbol is in OpenSymbols by return
	// thresholds. They get no limit price and the OpenTag tag.
	OpenLimit   *NoLimitRule
	OpenDetails []string
	OpenSymbols map[string]bool
	OpenTag     string
}

// SpecialTreatmentPattern matches "ST" and "*ST" flagged names. Names are
// upper-cased before matching; a following letter ("STAR") is not a flag.
var SpecialTreatmentPattern = regexp.MustCompile(`(^|\W)\*?ST([^A-Z]|$)`)

// TaiwanTicks is the TWSE tick-size table.
var TaiwanTicks = TickTable{
	Bands: []TickBand{{10, 0.01}, {50, 0.05}, {100, 0.1}, {500, 0.5}, {1000, 1}},
	Top:   5,
}

// NewChinaRule returns the A-share rule: 10% main board, 20% ChiNext/STAR,
// 30% Beijing, 5% for special treatment, rounded half-up to the cent.
func NewChinaRule() *FlatPercentRule {
	return &FlatPercentRule{
		Percent:    0.10,
		DefaultTag: "main",
		Boards: []Board{
			{Tag: "bse", Prefixes: []string{"8", "4"}, Percent: 0.30},
			{Tag: "star", Prefixes: []string{"688"}, Percent: 0.20},
			{Tag: "chinext", Prefixes: []string{"300", "301"}, Percent: 0.20},
		},
		Special:        SpecialTreatmentPattern,
		SpecialPercent: 0.05,
		SpecialTag:     "st",
		Rounding:       RoundHalfUpCent,
	}
}

// NewTaiwanRule returns the 10% rule floored to the TWSE tick.
func NewTaiwanRule() *FlatPercentRule {
	return &FlatPercentRule{
		Percent:    0.10,
		DefaultTag: "standard",
		Rounding:   RoundTickFloor,
		Ticks:      TaiwanTicks,
	}
}

func (r *FlatPercentRule) Kind() Kind { return KindFlatPercent }

// PercentFor returns the percentage and tag that apply to inst.
func (r *FlatPercentRule) PercentFor(inst domain.Instrument) (float64, string) {
	if r.Special != nil && r.Special.MatchString(strings.ToUpper(inst.Name)) {
		return r.SpecialPercent, r.SpecialTag
	}
	code := SymbolCode(inst.Symbol)
	for _, b := range r.Boards {
		for _, p := range b.Prefixes {
			if strings.HasPrefix(code, p) {
				return b.Percent, b.Tag
			}
		}
	}
	return r.Percent, r.DefaultTag
}

func (r *FlatPercentRule) LimitPrice(inst domain.Instrument, prevClose float64) (float64, bool) {
	if prevClose <= 0 {
		return 0, false
	}
	if _, ok := r.Unlimited(inst); ok {
		return 0, false
	}
	pct, _ := r.PercentFor(inst)
	raw, _ := decimal.NewFromFloat(prevClose).
		Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct))).
		Float64()

	switch r.Rounding {
	case RoundHalfUpCent:
		return RoundHalfUp(raw, 2), true
	case RoundTickFloor:
		return FloorToTick(raw, r.Ticks.SizeAt(raw)), true
	default:
		return raw, true
	}
}

func (r *FlatPercentRule) Tag(inst domain.Instrument) string {
	if _, ok := r.Unlimited(inst); ok {
		if r.OpenTag == "" {
			return "open_limit"
		}
		return r.OpenTag
	}
	_, tag := r.PercentFor(inst)
	return tag
}

// Unlimited returns the threshold rule for an instrument exempt from the
// percentage limit.
func (r *FlatPercentRule) Unlimited(inst domain.Instrument) (*NoLimitRule, bool) {
	if r.OpenLimit == nil {
		return nil, false
	}
	if r.OpenSymbols[strings.ToUpper(strings.TrimSpace(inst.Symbol))] {
		return r.OpenLimit, true
	}
	detail := strings.TrimSpace(inst.MarketDetail)
	for _, d := range r.OpenDetails {
		if detail != "" && strings.EqualFold(detail, d) {
			return r.OpenLimit, true
		}
	}
	return nil, false
}

// SymbolCode extracts the exchange code from a ticker: "300750.SZ",
// "sz.300750" and "300750" all give "300750". Tickers without digits are
// returned upper-cased.
func SymbolCode(symbol string) string {
	s := strings.TrimSpace(symbol)
	start, end := -1, -1
	for i, c := range s {
		if c >= '0' && c <= '9' {
			if start < 0 {
				start = i
			}
			end = i + 1
		} else if start >= 0 {
			break
		}
	}
	if start < 0 {
		return strings.ToUpper(s)
	}
	return s[start:end]
}
