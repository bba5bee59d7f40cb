package gather

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"limitboard/internal/calendar"
	"limitboard/internal/domain"
	"limitboard/internal/provider"
	"limitboard/internal/store"
	"limitboard/internal/util"
)

// fakeProvider serves canned batch and single responses.
type fakeProvider struct {
	mu          sync.Mutex
	batchFail   error
	batch       map[string][]domain.Bar
	batchErrs   map[string]error
	single      map[string][]domain.Bar
	singleErrs  map[string]error
	singleCalls map[string]int
	batchCalls  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchDaily(_ context.Context, symbols []string, _, _ string) (provider.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchFail != nil {
		return provider.Batch{}, f.batchFail
	}
	out := provider.Batch{Bars: map[string][]domain.Bar{}, Errors: map[string]error{}}
	for _, s := range symbols {
		if b, ok := f.batch[s]; ok {
			out.Bars[s] = b
		}
		if e, ok := f.batchErrs[s]; ok {
			out.Errors[s] = e
		}
	}
	return out, nil
}

func (f *fakeProvider) FetchOne(_ context.Context, symbol string, _, _ string) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.singleCalls == nil {
		f.singleCalls = map[string]int{}
	}
	f.singleCalls[symbol]++
	if e, ok := f.singleErrs[symbol]; ok {
		return nil, e
	}
	return f.single[symbol], nil
}

func bar(sym, date string, close float64) domain.Bar {
	return domain.Bar{Symbol: sym, Date: date, Open: close, High: close, Low: close, Close: close, Volume: 1000}
}

var testWindow = calendar.Window{
	Market:       "ca",
	Start:        "2024-01-02",
	End:          "2024-01-04",
	EndExclusive: "2024-01-05",
	Mode:         calendar.ModeTradingDays,
}

func newTestSync(t *testing.T, p provider.Provider) (*Synchronizer, *store.SQLiteStore, *Skiplist) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "ca", "ca_stock_warehouse.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	skip := NewSkiplist(filepath.Join(dir, "cache", "ca", "skip_symbols.txt"))
	opts := Options{BatchSize: 10, FallbackSingle: true, MaxRetries: 2}
	return NewSynchronizer("ca", p, st, skip, opts, nil, util.Discard()), st, skip
}

func TestSyncBatchFallbackAndSkiplist(t *testing.T) {
	p := &fakeProvider{
		batch: map[string][]domain.Bar{
			"A.TO": {bar("A.TO", "2024-01-02", 10), bar("A.TO", "2024-01-03", 11)},
		},
		batchErrs: map[string]error{
			"C.TO": provider.NewPermanent("C.TO", provider.ReasonNoPrice, errors.New("no price data found")),
		},
		single: map[string][]domain.Bar{
			"B.TO": {bar("B.TO", "2024-01-03", 5)},
		},
		singleErrs: map[string]error{
			"D.TO": errors.New("connection reset"),
		},
	}
	s, st, skip := newTestSync(t, p)
	ctx := context.Background()

	if _, err := skip.Add("E.TO", "tz_missing"); err != nil {
		t.Fatal(err)
	}
	// One bar before the window survives; one inside is replaced.
	if _, err := st.UpsertBars(ctx, []domain.Bar{bar("A.TO", "2023-12-29", 9), bar("A.TO", "2024-01-03", 99)}); err != nil {
		t.Fatal(err)
	}

	sum, err := s.Sync(ctx, []string{"A.TO", "B.TO", "C.TO", "D.TO", "E.TO", "A.TO"}, testWindow)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	if sum.Total != 5 {
		t.Errorf("Total = %d, want 5", sum.Total)
	}
	if sum.Success != 2 {
		t.Errorf("Success = %d, want 2", sum.Success)
	}
	if sum.Failed != 1 || sum.Failures["D.TO"] != "exception: connection reset" {
		t.Errorf("Failures = %v, want D.TO exception", sum.Failures)
	}
	if sum.SkippedPermanent != 1 {
		t.Errorf("SkippedPermanent = %d, want 1", sum.SkippedPermanent)
	}
	if sum.NewlySkipped != 1 {
		t.Errorf("NewlySkipped = %d, want 1", sum.NewlySkipped)
	}
	if !sum.HasChanged {
		t.Error("HasChanged = false, want true")
	}
	if sum.MaxDate != "2024-01-03" {
		t.Errorf("MaxDate = %q, want %q", sum.MaxDate, "2024-01-03")
	}

	// D.TO: one attempt plus two retries. C.TO never reaches fallback.
	if got := p.singleCalls["D.TO"]; got != 3 {
		t.Errorf("D.TO single calls = %d, want 3", got)
	}
	if got := p.singleCalls["C.TO"]; got != 0 {
		t.Errorf("C.TO single calls = %d, want 0", got)
	}

	if ok, _ := skip.Contains("C.TO"); !ok {
		t.Error("C.TO not in skiplist after permanent error")
	}

	bars, err := st.BarsBetween(ctx, "2023-01-01", "2024-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 4 {
		t.Fatalf("len(bars) = %d, want 4: %+v", len(bars), bars)
	}
	for _, b := range bars {
		if b.Symbol == "A.TO" && b.Date == "2024-01-03" && b.Close != 11 {
			t.Errorf("A.TO 2024-01-03 close = %v, want 11 (window replaced)", b.Close)
		}
	}

	errs, err := st.DownloadErrors(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Symbol != "D.TO" || errs[0].StartDate != "2024-01-02" {
		t.Errorf("DownloadErrors = %+v, want one D.TO row", errs)
	}
}

func TestSyncBatchErrorSkipsFallback(t *testing.T) {
	p := &fakeProvider{batchFail: errors.New("HTTP 503")}
	s, _, _ := newTestSync(t, p)

	sum, err := s.Sync(context.Background(), []string{"A.TO", "B.TO"}, testWindow)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if sum.Failed != 2 || sum.Success != 0 || sum.HasChanged {
		t.Errorf("Summary = %+v, want 2 failed, nothing changed", sum)
	}
	if sum.Failures["A.TO"] != "HTTP 503" {
		t.Errorf("Failures[A.TO] = %q, want %q", sum.Failures["A.TO"], "HTTP 503")
	}
	if len(p.singleCalls) != 0 {
		t.Errorf("single calls = %v, want none after a batch error", p.singleCalls)
	}
}

func TestSyncEmptyBatchIsBatchError(t *testing.T) {
	p := &fakeProvider{}
	s, _, _ := newTestSync(t, p)

	sum, _ := s.Sync(context.Background(), []string{"A.TO"}, testWindow)
	if sum.Failures["A.TO"] != MsgBatchNoRows {
		t.Errorf("Failures[A.TO] = %q, want %q", sum.Failures["A.TO"], MsgBatchNoRows)
	}
}

func TestSyncSinglePermanentStopsRetrying(t *testing.T) {
	p := &fakeProvider{
		batch: map[string][]domain.Bar{"A.TO": {bar("A.TO", "2024-01-02", 1)}},
		singleErrs: map[string]error{
			"Z.TO": provider.NewPermanent("Z.TO", provider.ReasonTZMissing, errors.New("no timezone found")),
		},
	}
	s, _, skip := newTestSync(t, p)

	sum, err := s.Sync(context.Background(), []string{"A.TO", "Z.TO"}, testWindow)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.singleCalls["Z.TO"]; got != 1 {
		t.Errorf("Z.TO single calls = %d, want 1", got)
	}
	if sum.Failed != 0 || sum.NewlySkipped != 1 {
		t.Errorf("Summary = %+v, want no failures and one newly skipped", sum)
	}
	entries, _ := skip.Entries()
	if len(entries) != 1 || entries[0].Reason != provider.ReasonTZMissing {
		t.Errorf("skiplist = %+v, want Z.TO tz_missing", entries)
	}

	// The next run filters it up front.
	sum, _ = s.Sync(context.Background(), []string{"A.TO", "Z.TO"}, testWindow)
	if sum.SkippedPermanent != 1 || sum.NewlySkipped != 0 {
		t.Errorf("second run = %+v, want 1 skipped, 0 newly skipped", sum)
	}
}

func TestSyncIdempotent(t *testing.T) {
	p := &fakeProvider{batch: map[string][]domain.Bar{
		"A.TO": {bar("A.TO", "2024-01-02", 10), bar("A.TO", "2024-01-03", 11)},
		"B.TO": {bar("B.TO", "2024-01-04", 3)},
	}}
	s, st, _ := newTestSync(t, p)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Sync(ctx, []string{"A.TO", "B.TO"}, testWindow); err != nil {
			t.Fatal(err)
		}
	}
	bars, err := st.BarsBetween(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Errorf("len(bars) after two syncs = %d, want 3", len(bars))
	}
}

func TestSyncCancelled(t *testing.T) {
	p := &fakeProvider{}
	s, _, _ := newTestSync(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Sync(ctx, []string{"A.TO"}, testWindow); !errors.Is(err, context.Canceled) {
		t.Errorf("Sync on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestKindBackOff(t *testing.T) {
	var last error = errEmpty
	b := &kindBackOff{empty: 1200 * time.Millisecond, fail: 1800 * time.Millisecond, last: &last}
	if got := b.NextBackOff(); got != 1200*time.Millisecond {
		t.Errorf("NextBackOff after empty = %v, want 1.2s", got)
	}
	last = errors.New("boom")
	if got := b.NextBackOff(); got != 1800*time.Millisecond {
		t.Errorf("NextBackOff after error = %v, want 1.8s", got)
	}
}

type staticDates []string

func (d staticDates) Dates(context.Context, string, string, string) ([]string, error) {
	return d, nil
}

func TestMarketGathererRun(t *testing.T) {
	p := &fakeProvider{batch: map[string][]domain.Bar{
		"A.TO": {bar("A.TO", "2024-01-11", 10), bar("A.TO", "2024-01-12", 11)},
	}}
	s, st, _ := newTestSync(t, p)
	ctx := context.Background()
	if err := st.UpsertInstruments(ctx, []domain.Instrument{{Symbol: "A.TO", Name: "Alpha", Market: "ca"}}); err != nil {
		t.Fatal(err)
	}

	resolver := calendar.NewResolver(staticDates{
		"2024-01-05", "2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12",
	}, nil, util.Discard())
	clock, err := util.NewMarketClock("UTC", time.UTC, "09:30", "16:00")
	if err != nil {
		t.Fatal(err)
	}
	g := NewMarketGatherer("ca", resolver, WindowSpec{
		CalendarTicker:  "^GSPTSE",
		LagDays:         1,
		NTradingDays:    3,
		LookbackCalDays: 30,
		FallbackCalDays: 5,
	}, clock, st, s, util.Discard())
	g.now = func() time.Time { return time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC) }

	if g.Name() != "ca-sync" {
		t.Errorf("Name = %q, want %q", g.Name(), "ca-sync")
	}
	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	sum, ok := g.LastSummary()
	if !ok {
		t.Fatal("LastSummary ok = false after Run")
	}
	if sum.Window.Start != "2024-01-10" || sum.Window.End != "2024-01-12" {
		t.Errorf("window = %s..%s, want 2024-01-10..2024-01-12", sum.Window.Start, sum.Window.End)
	}
	if sum.Success != 1 {
		t.Errorf("Success = %d, want 1", sum.Success)
	}
}

func TestMarketGathererEmptyUniverse(t *testing.T) {
	s, st, _ := newTestSync(t, &fakeProvider{})
	clock, _ := util.NewMarketClock("UTC", time.UTC, "09:30", "16:00")
	g := NewMarketGatherer("ca", calendar.NewResolver(nil, nil, util.Discard()), WindowSpec{NTradingDays: 3}, clock, st, s, util.Discard())

	if _, err := g.SyncAsOf(context.Background(), "2024-01-12"); !errors.Is(err, ErrEmptyUniverse) {
		t.Errorf("SyncAsOf with no instruments = %v, want ErrEmptyUniverse", err)
	}
}
