package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"limitboard/internal/config"
	"limitboard/internal/domain"
	"limitboard/internal/provider"
	"limitboard/internal/snapshot"
	"limitboard/internal/store"
	"limitboard/internal/universe"
	"limitboard/internal/util"
)

var tradingDays = []string{
	"2024-01-04", "2024-01-05", "2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12",
}

// fakeProvider serves a calendar proxy plus fixed closes per symbol.
type fakeProvider struct {
	closes map[string][]float64 // aligned with the last len(v) trading days
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) bars(sym, start, endExcl string) []domain.Bar {
	closes := f.closes[sym]
	days := tradingDays[len(tradingDays)-len(closes):]
	var out []domain.Bar
	for i, d := range days {
		if d < start || d >= endExcl {
			continue
		}
		c := closes[i]
		out = append(out, domain.Bar{Symbol: sym, Date: d, Open: c, High: c, Low: c, Close: c, Volume: 100})
	}
	return out
}

func (f *fakeProvider) FetchDaily(_ context.Context, symbols []string, start, endExcl string) (provider.Batch, error) {
	b := provider.Batch{Bars: map[string][]domain.Bar{}}
	for _, s := range symbols {
		if bars := f.bars(s, start, endExcl); len(bars) > 0 {
			b.Bars[s] = bars
		}
	}
	return b, nil
}

func (f *fakeProvider) FetchOne(_ context.Context, sym, start, endExcl string) ([]domain.Bar, error) {
	return f.bars(sym, start, endExcl), nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
storage:
  data_dir: %q
markets:
  jp:
    sync:
      fallback_single: false
    window:
      rolling_trading_days: 5
    overrides:
      - name: locked_ex_growth
        metric: locked
        exclude_tag: growth
`, dir)))
	if err != nil {
		t.Fatalf("config.Parse() returned error: %v", err)
	}
	fp := &fakeProvider{closes: map[string][]float64{
		"^N225":  {1, 1, 1, 1, 1, 1, 1},
		"7203.T": {100, 101, 151, 201, 281},
		"6758.T": {50, 50, 50, 50, 50},
	}}
	p, err := New(cfg, Options{
		Registerer: prometheus.NewRegistry(),
		Provider: func(*config.Config, *config.MarketConfig) (provider.Provider, error) {
			return fp, nil
		},
	}, util.Discard())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	m, err := p.Market("jp")
	if err != nil {
		t.Fatalf("Market(jp) returned error: %v", err)
	}
	insts := []domain.Instrument{
		{Symbol: "7203.T", Name: "Toyota", Sector: "Autos", Market: domain.MarketJP},
		{Symbol: "6758.T", Name: "Sony", Sector: "Tech", Market: domain.MarketJP},
	}
	if _, err := universe.Import(context.Background(), m.Store, insts); err != nil {
		t.Fatalf("Import() returned error: %v", err)
	}
	return p, cfg
}

func TestSyncAndSnapshot(t *testing.T) {
	p, cfg := newTestPipeline(t)
	ctx := context.Background()

	if got := p.Markets(); len(got) != 1 || got[0] != "jp" {
		t.Fatalf("Markets() = %v, want [jp]", got)
	}

	sum, err := p.Sync(ctx, "jp", "2024-01-12")
	if err != nil {
		t.Fatalf("Sync() returned error: %v", err)
	}
	if sum.Success != 2 || sum.Window.Start != "2024-01-08" {
		t.Errorf("Sync() = success %d window %s, want 2 from 2024-01-08", sum.Success, sum.Window.Start)
	}

	payload, err := p.Snapshot(ctx, "jp", snapshot.SlotClose, "2024-01-13")
	if err != nil {
		t.Fatalf("Snapshot() returned error: %v", err)
	}
	if payload.YmdEffective != "2024-01-12" {
		t.Errorf("YmdEffective = %q, want %q", payload.YmdEffective, "2024-01-12")
	}
	if len(payload.LimitList) != 1 || payload.LimitList[0].Symbol != "7203.T" || payload.LimitList[0].Streak != 3 {
		t.Errorf("LimitList = %+v, want 7203.T on a 3-day streak", payload.LimitList)
	}
	if payload.Stats.Overrides["locked_ex_growth"] != 1 {
		t.Errorf("override count = %v, want 1", payload.Stats.Overrides)
	}

	stored, err := p.Files().Read("jp", "2024-01-12", snapshot.SlotClose)
	if err != nil {
		t.Fatalf("Files().Read() returned error: %v", err)
	}
	if stored.Stats.LockedCnt != 1 {
		t.Errorf("stored LockedCnt = %d, want 1", stored.Stats.LockedCnt)
	}

	recs, err := store.NewParquetStore(cfg.ArchiveDir()).ReadSnapshot(ctx, store.SnapshotKey{Market: "jp", Date: "2024-01-12", Slot: snapshot.SlotClose})
	if err != nil || len(recs) != 2 {
		t.Errorf("archive = %d records, %v, want 2", len(recs), err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "cache", "jp", "calendar")); err != nil {
		t.Errorf("calendar cache dir missing: %v", err)
	}
}

func TestSnapshotAll(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	if _, err := p.Sync(ctx, "jp", "2024-01-12"); err != nil {
		t.Fatalf("Sync() returned error: %v", err)
	}
	out, err := p.SnapshotAll(ctx, snapshot.SlotMidday, "2024-01-12")
	if err != nil {
		t.Fatalf("SnapshotAll() returned error: %v", err)
	}
	if out["jp"] == nil || out["jp"].Slot != snapshot.SlotMidday {
		t.Fatalf("SnapshotAll() = %v, want a jp midday payload", out)
	}
	if dates, _ := p.Files().Dates("jp"); len(dates) != 1 {
		t.Errorf("payload dates = %v, want one", dates)
	}
}

func TestUnknownMarket(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Sync(context.Background(), "zz", ""); err == nil {
		t.Error("Sync(zz) returned nil error")
	}
	if err := p.Run(context.Background(), "zz", snapshot.SlotClose); err == nil {
		t.Error("Run(zz) returned nil error")
	}
}

func TestAggregateOptions(t *testing.T) {
	p, _ := newTestPipeline(t)
	m, _ := p.Market("jp")
	opts := m.AggregateOptions()
	if opts.NoLimit || opts.TouchThreshold != 0 || len(opts.Overrides) != 1 {
		t.Errorf("AggregateOptions() = %+v", opts)
	}
}
