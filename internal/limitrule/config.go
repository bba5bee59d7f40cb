package limitrule

import (
	"fmt"
	"regexp"
	"strings"

	"limitboard/internal/config"
)

// KoreaTicks is the KRX tick-size table.
var KoreaTicks = TickTable{
	Bands: []TickBand{{2000, 1}, {5000, 5}, {20000, 10}, {50000, 50}, {200000, 100}, {500000, 500}},
	Top:   1000,
}

// NewKoreaRule returns the 30% rule floored to the KRX tick.
func NewKoreaRule() *FlatPercentRule {
	return &FlatPercentRule{
		Percent:    0.30,
		DefaultTag: "standard",
		Rounding:   RoundTickFloor,
		Ticks:      KoreaTicks,
	}
}

// FromConfig builds the rule a market uses. It is the only place rule
// types are chosen.
func FromConfig(rc config.RuleConfig) (Rule, error) {
	switch rc.Builtin {
	case "jp_tse":
		return NewJapanRule(), nil
	case "cn_ashare":
		return withOpenLimit(NewChinaRule(), rc), nil
	case "tw_twse":
		return withOpenLimit(NewTaiwanRule(), rc), nil
	case "kr_krx":
		return withOpenLimit(NewKoreaRule(), rc), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown builtin rule %q", rc.Builtin)
	}

	ticks := tickTable(rc.Ticks, rc.TopTick)

	switch Kind(rc.Kind) {
	case KindTieredAmount:
		if len(rc.AmountBands) == 0 {
			return nil, fmt.Errorf("tiered_amount rule needs amount_bands")
		}
		bands := make([]AmountBand, len(rc.AmountBands))
		for i, b := range rc.AmountBands {
			bands[i] = AmountBand{Below: b.Below, Amount: b.Value}
		}
		return &TieredAmountRule{Bands: bands, TopAmount: rc.TopAmount}, nil

	case KindFlatPercent:
		if rc.Percent <= 0 {
			return nil, fmt.Errorf("flat_percent rule needs a positive percent")
		}
		r := &FlatPercentRule{
			Percent:        rc.Percent,
			DefaultTag:     rc.DefaultTag,
			SpecialPercent: rc.SpecialPercent,
			SpecialTag:     rc.SpecialTag,
			Rounding:       Rounding(rc.Rounding),
			Ticks:          ticks,
		}
		if r.Rounding == "" {
			r.Rounding = RoundNone
		}
		if r.Rounding == RoundTickFloor && ticks.Empty() {
			return nil, fmt.Errorf("tick_floor rounding needs ticks")
		}
		for _, b := range rc.Boards {
			r.Boards = append(r.Boards, Board{Tag: b.Tag, Prefixes: b.Prefixes, Percent: b.Percent})
		}
		if rc.SpecialPattern != "" {
			re, err := regexp.Compile(rc.SpecialPattern)
			if err != nil {
				return nil, fmt.Errorf("compile special_pattern: %w", err)
			}
			r.Special = re
		}
		return withOpenLimit(r, rc), nil

	case KindNoLimit:
		return noLimit(rc, ticks), nil
	}
	return nil, fmt.Errorf("unknown rule kind %q", rc.Kind)
}

func noLimit(rc config.RuleConfig, ticks TickTable) *NoLimitRule {
	return &NoLimitRule{
		Threshold:      rc.Threshold,
		TouchThreshold: rc.TouchThreshold,
		ThemeThreshold: rc.ThemeThreshold,
		Gate: NoiseGate{
			PennyPriceMax: rc.PennyPriceMax,
			Ticks:         ticks,
			MinTicks:      rc.MinTicks,
			MinAbsMove:    rc.MinAbsMove,
		},
	}
}

// withOpenLimit attaches the configured open-limit exemptions to r.
func withOpenLimit(r *FlatPercentRule, rc config.RuleConfig) *FlatPercentRule {
	if len(rc.OpenLimitDetails) == 0 && len(rc.OpenLimitSymbols) == 0 {
		return r
	}
	r.OpenLimit = noLimit(rc, tickTable(rc.Ticks, rc.TopTick))
	r.OpenDetails = rc.OpenLimitDetails
	r.OpenSymbols = make(map[string]bool, len(rc.OpenLimitSymbols))
	for _, sym := range rc.OpenLimitSymbols {
		r.OpenSymbols[strings.ToUpper(strings.TrimSpace(sym))] = true
	}
	return r
}

func tickTable(bands []config.BandConfig, top float64) TickTable {
	t := TickTable{Top: top}
	for _, b := range bands {
		t.Bands = append(t.Bands, TickBand{Below: b.Below, Size: b.Value})
	}
	return t
}
