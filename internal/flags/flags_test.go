package flags

import (
	"context"
	"path/filepath"
	"testing"

	"limitboard/internal/domain"
	"limitboard/internal/limitrule"
	"limitboard/internal/store"
)

func series(sym string, closes ...float64) []domain.Bar {
	dates := []string{
		"2024-03-01", "2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07",
		"2024-03-08", "2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14",
	}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: sym, Date: dates[i], Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return bars
}

func TestScanStreak(t *testing.T) {
	calc := NewCalculator(limitrule.NewJapanRule(), nil, Options{Mode: StreakTouch})
	// Limit-up closes on indices 2, 3, 4 and 7.
	bars := series("7203.T", 100, 101, 151, 201, 281, 280, 280, 360, 359)
	got := calc.Scan(domain.Instrument{Symbol: "7203.T"}, bars)

	wantQual := []bool{false, false, true, true, true, false, false, true, false}
	for i, f := range got {
		if f.Qualifies != wantQual[i] {
			t.Errorf("day %d Qualifies = %v, want %v", i, f.Qualifies, wantQual[i])
		}
		if f.Locked && f.TouchedOnly {
			t.Errorf("day %d both locked and touched", i)
		}
	}
	if got[4].Streak != 3 {
		t.Errorf("Streak[4] = %d, want 3", got[4].Streak)
	}
	if got[5].Streak != 0 {
		t.Errorf("Streak[5] = %d, want 0", got[5].Streak)
	}
	if got[3].StreakPrev != 2 {
		t.Errorf("StreakPrev[3] = %d, want 2", got[3].StreakPrev)
	}
	if got[7].Streak != 1 || got[8].StreakPrev != 1 || !got[8].QualifiesPrev {
		t.Errorf("day 7/8 = %+v / %+v", got[7], got[8])
	}
	if got[2].LimitPrice != 151 {
		t.Errorf("LimitPrice[2] = %v, want 151", got[2].LimitPrice)
	}
}

func TestScanFirstDayAndBadPrevClose(t *testing.T) {
	calc := NewCalculator(limitrule.NewJapanRule(), nil, Options{Mode: StreakTouch})
	got := calc.Scan(domain.Instrument{}, series("X", 500))
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if f := got[0]; f.Ret != 0 || f.RetHigh != 0 || f.Qualifies || f.Streak != 0 {
		t.Errorf("first day = %+v, want zero ret and no streak", f)
	}
}

func TestScanTouchedOnly(t *testing.T) {
	calc := NewCalculator(limitrule.NewChinaRule(), nil, Options{Mode: StreakTouch})
	bars := series("600519.SS", 10, 10.5)
	bars[1].High = 11
	got := calc.Scan(domain.Instrument{Symbol: "600519.SS", Name: "Moutai"}, bars)
	if f := got[1]; f.Locked || !f.TouchedOnly || !f.Qualifies {
		t.Errorf("touched day = %+v, want touched only and qualifying", f)
	}
	if got[1].Tag != "main" {
		t.Errorf("Tag = %q, want %q", got[1].Tag, "main")
	}

	// Close mode does not count a touch.
	calc = NewCalculator(limitrule.NewChinaRule(), nil, Options{Mode: StreakClose, Threshold: 0.10})
	got = calc.Scan(domain.Instrument{Symbol: "600519.SS"}, bars)
	if got[1].Qualifies {
		t.Error("close mode: touched day qualifies, want not")
	}
}

func TestScanUnsortedInput(t *testing.T) {
	calc := NewCalculator(limitrule.NewJapanRule(), nil, Options{Mode: StreakTouch})
	bars := series("X", 100, 150)
	bars[0], bars[1] = bars[1], bars[0]
	got := calc.Scan(domain.Instrument{}, bars)
	if got[1].Date != "2024-03-04" || !got[1].Locked {
		t.Errorf("day 1 = %+v, want locked on 2024-03-04", got[1])
	}
}

func TestScanNoLimit(t *testing.T) {
	rule := &limitrule.NoLimitRule{
		Threshold:      0.10,
		TouchThreshold: 0.10,
		ThemeThreshold: 0.30,
		Gate: limitrule.NoiseGate{
			PennyPriceMax: 0.20,
			Ticks:         limitrule.TickTable{Top: 0.0005},
			MinTicks:      3,
		},
	}
	calc := NewCalculator(rule, nil, Options{Mode: StreakClose, Threshold: 0.10})

	bars := series("PENNY", 0.003, 0.0035)
	got := calc.Scan(domain.Instrument{}, bars)
	if f := got[1]; f.Hit || f.Qualifies || f.Locked {
		t.Errorf("one-tick penny move = %+v, want gated out", f)
	}

	bars = series("MOVE", 10, 13.5, 14)
	bars[2].High = 16
	got = calc.Scan(domain.Instrument{}, bars)
	if f := got[1]; !f.Hit || !f.Theme || !f.Qualifies || f.Locked || f.TouchedOnly {
		t.Errorf("+35%% day = %+v, want hit, theme, qualifying", f)
	}
	if f := got[2]; !f.TouchedOnly || f.Hit || f.Qualifies || f.Streak != 0 {
		t.Errorf("high-only day = %+v, want touched only, not qualifying", f)
	}
}

func TestScanOpenLimitInstrument(t *testing.T) {
	rule := limitrule.NewTaiwanRule()
	rule.OpenLimit = &limitrule.NoLimitRule{Threshold: 0.10, TouchThreshold: 0.10}
	rule.OpenDetails = []string{"emerging"}
	calc := NewCalculator(rule, nil, Options{Mode: StreakTouch})

	emerging := domain.Instrument{Symbol: "6999.TWO", MarketDetail: "emerging"}
	got := calc.Scan(emerging, series("6999.TWO", 10, 12))
	if f := got[1]; f.Locked || f.LimitPrice != 0 || !f.Hit || !f.Qualifies || f.Tag != "open_limit" {
		t.Errorf("emerging day = %+v, want an unlimited hit tagged open_limit", f)
	}

	listed := domain.Instrument{Symbol: "2330.TW", MarketDetail: "listed"}
	got = calc.Scan(listed, series("2330.TW", 10, 12))
	if f := got[1]; !f.Locked || f.LimitPrice != 11 || f.Hit {
		t.Errorf("listed day = %+v, want locked at 11", f)
	}
}

func TestComputeMarket(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "jp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()

	var bars []domain.Bar
	bars = append(bars, series("AAA.T", 100, 101, 151, 201, 281)...)
	bars = append(bars, series("BBB.T", 400, 480)...)
	// CCC.T has no bar on the as-of date.
	bars = append(bars, series("CCC.T", 50, 80, 110)...)
	if _, err := st.UpsertBars(ctx, bars); err != nil {
		t.Fatal(err)
	}

	calc := NewCalculator(limitrule.NewJapanRule(), st, Options{Mode: StreakTouch})
	got, err := calc.ComputeMarket(ctx, "2024-03-07", 20, nil)
	if err != nil {
		t.Fatalf("ComputeMarket returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(ComputeMarket) = %d, want 1: %v", len(got), got)
	}
	if f := got["AAA.T"]; f.Streak != 3 || !f.Locked {
		t.Errorf("AAA.T = %+v, want locked with streak 3", f)
	}

	// A short lookback cuts the streak at the window edge.
	got, _ = calc.ComputeMarket(ctx, "2024-03-07", 1, nil)
	if f := got["AAA.T"]; f.Streak != 1 {
		t.Errorf("AAA.T lookback 1 streak = %d, want 1", f.Streak)
	}

	f, ok, err := calc.ComputeFlags(ctx, domain.Instrument{Symbol: "BBB.T"}, "2024-03-04", 20)
	if err != nil || !ok {
		t.Fatalf("ComputeFlags = %v, %v", ok, err)
	}
	if !f.Locked || f.PrevClose != 400 {
		t.Errorf("BBB.T = %+v, want locked from 400", f)
	}

	if _, ok, _ := calc.ComputeFlags(ctx, domain.Instrument{Symbol: "CCC.T"}, "2024-03-07", 20); ok {
		t.Error("ComputeFlags(CCC.T) ok = true, want false")
	}
}
