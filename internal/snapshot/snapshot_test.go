package snapshot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"limitboard/internal/domain"
	"limitboard/internal/flags"
	"limitboard/internal/limitrule"
	"limitboard/internal/store"
	"limitboard/internal/util"
)

func seed(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cn", "cn_stock_warehouse.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	b := func(sym, date string, close, high float64) domain.Bar {
		return domain.Bar{Symbol: sym, Date: date, Open: close, High: high, Low: close, Close: close, Volume: 10}
	}
	if _, err := st.UpsertBars(ctx, []domain.Bar{
		b("600000.SS", "2024-05-06", 10, 10),
		b("600000.SS", "2024-05-07", 11, 11),
		b("300750.SZ", "2024-05-06", 100, 100),
		b("300750.SZ", "2024-05-07", 110, 120),
		b("999999.SS", "2024-05-06", 5, 5),
		b("999999.SS", "2024-05-07", 5.1, 5.1),
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertInstruments(ctx, []domain.Instrument{
		{Symbol: "600000.SS", Name: "Pudong Bank", Sector: "Banks", Market: domain.MarketCN},
		{Symbol: "300750.SZ", Name: "CATL", Sector: "Batteries", Market: domain.MarketCN},
		{Symbol: "688001.SS", Name: "Quiet", Market: domain.MarketCN},
	}); err != nil {
		t.Fatal(err)
	}
	return st
}

func newBuilder(t *testing.T, st *store.SQLiteStore, noLimit bool) *Builder {
	t.Helper()
	clock, err := util.NewMarketClock("Asia/Shanghai", time.FixedZone("CST", 8*3600), "09:30", "15:00")
	if err != nil {
		t.Fatal(err)
	}
	calc := flags.NewCalculator(limitrule.NewChinaRule(), st, flags.Options{Mode: flags.StreakTouch})
	return NewBuilder(calc, st, clock, Options{Market: "cn", NoLimit: noLimit, Lookback: 20}, util.Discard())
}

func TestBuildFullUniverse(t *testing.T) {
	st := seed(t)
	b := newBuilder(t, st, false)
	fixed := time.Date(2024, 5, 8, 1, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	snap, err := b.Build(context.Background(), "2024-05-08")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if snap.Empty {
		t.Fatal("Empty = true, want false")
	}
	if snap.Effective != "2024-05-07" {
		t.Errorf("Effective = %q, want %q", snap.Effective, "2024-05-07")
	}
	if !snap.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v, want %v", snap.GeneratedAt, fixed)
	}
	if snap.Time.MarketFinishedAtUTC != "2024-05-08T01:00:00Z" || snap.Time.MarketFinishedHM != "09:00" {
		t.Errorf("Time = %+v", snap.Time)
	}
	if len(snap.Rows) != 4 {
		t.Fatalf("len(Rows) = %d, want 4", len(snap.Rows))
	}

	bySym := map[string]Row{}
	for _, r := range snap.Rows {
		bySym[r.Symbol] = r
	}
	if r := bySym["600000.SS"]; !r.Locked || r.Streak != 1 || r.Tag != "main" {
		t.Errorf("600000.SS = %+v, want locked main board", r)
	}
	// 20% board: high 120 is the limit, close 110 is not.
	if r := bySym["300750.SZ"]; r.Locked || !r.TouchedOnly || r.Tag != "chinext" {
		t.Errorf("300750.SZ = %+v, want touched only on chinext", r)
	}
	if r := bySym["688001.SS"]; r.HasBar || r.Close != 0 || r.Sector != domain.UnknownLabel {
		t.Errorf("688001.SS = %+v, want empty row with Unknown sector", r)
	}
	if r := bySym["999999.SS"]; !r.HasBar || r.Name != domain.UnknownLabel {
		t.Errorf("999999.SS = %+v, want price-only row with Unknown name", r)
	}

	recs := snap.Records()
	if len(recs) != 4 || recs[0].Date != "2024-05-07" || recs[0].Slot != SlotClose {
		t.Errorf("Records = %+v", recs)
	}
}

func TestBuildEmpty(t *testing.T) {
	st := seed(t)
	b := newBuilder(t, st, false)

	snap, err := b.Build(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !snap.Empty || !strings.HasPrefix(snap.Note, NoteNoPriceData) {
		t.Errorf("snapshot = %+v, want empty with note", snap)
	}
	if snap.Time.MarketTZ != "Asia/Shanghai" {
		t.Errorf("Time.MarketTZ = %q, want Asia/Shanghai", snap.Time.MarketTZ)
	}
}

func TestBuildMarketOpen(t *testing.T) {
	st := seed(t)
	b := newBuilder(t, st, true)

	// 10:00 local on a day with rows.
	b.now = func() time.Time { return time.Date(2024, 5, 7, 2, 0, 0, 0, time.UTC) }
	snap, err := b.Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Requested != "2024-05-07" || !snap.MarketOpen {
		t.Errorf("Requested = %q, MarketOpen = %v, want 2024-05-07 open", snap.Requested, snap.MarketOpen)
	}

	// 16:00 local: closed.
	b.now = func() time.Time { return time.Date(2024, 5, 7, 8, 0, 0, 0, time.UTC) }
	snap, _ = b.Build(context.Background(), "")
	if snap.MarketOpen {
		t.Error("MarketOpen after session = true, want false")
	}

	// Next day inside session but no rows yet.
	b.now = func() time.Time { return time.Date(2024, 5, 8, 2, 0, 0, 0, time.UTC) }
	snap, _ = b.Build(context.Background(), "")
	if snap.MarketOpen {
		t.Error("MarketOpen with no rows today = true, want false")
	}
}
