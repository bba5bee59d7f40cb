package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"limitboard/internal/calendar"
	"limitboard/internal/config"
	"limitboard/internal/domain"
	"limitboard/internal/provider"
	"limitboard/internal/store"
)

// Failure messages recorded in download_errors.
const (
	MsgBatchMissing = "batch_missing_or_no_close"
	MsgBatchNoRows  = "batch produced no rows"
	MsgEmpty        = "empty"
)

// errEmpty marks a single-symbol fetch that returned no rows.
var errEmpty = errors.New(MsgEmpty)

// SyncStore is the storage the synchronizer writes to.
type SyncStore interface {
	DeleteFrom(ctx context.Context, start string) (int64, error)
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)
	MaxDate(ctx context.Context) (string, error)
	RecordDownloadErrors(ctx context.Context, errs []store.DownloadError) error
	Vacuum(ctx context.Context) error
}

// Options tunes batching, throttling and retries.
type Options struct {
	BatchSize       int
	BatchSleep      time.Duration
	FallbackSingle  bool
	SingleSleep     time.Duration
	MaxRetries      int
	RetryEmptySleep time.Duration
	RetryErrorSleep time.Duration
}

// OptionsFromConfig copies the market's sync knobs.
func OptionsFromConfig(c config.SyncConfig) Options {
	return Options{
		BatchSize:       c.BatchSize,
		BatchSleep:      c.BatchSleep,
		FallbackSingle:  c.FallbackSingle,
		SingleSleep:     c.SingleSleep,
		MaxRetries:      c.MaxRetries,
		RetryEmptySleep: c.RetryEmptySleep,
		RetryErrorSleep: c.RetryErrorSleep,
	}
}

// Summary reports one sync run.
type Summary struct {
	Market           string
	Total            int
	Success          int
	Failed           int
	SkippedPermanent int
	NewlySkipped     int
	HasChanged       bool
	Window           calendar.Window
	MaxDate          string
	// Failures maps each failed symbol to its last error text.
	Failures map[string]string
	Elapsed  time.Duration
}

// Synchronizer replaces a market's rolling window of bars with fresh
// provider data.
type Synchronizer struct {
	market   string
	provider provider.Provider
	store    SyncStore
	skip     *Skiplist
	opts     Options
	metrics  *Metrics
	log      *slog.Logger
}

// NewSynchronizer creates a Synchronizer. metrics may be nil.
func NewSynchronizer(market string, p provider.Provider, s SyncStore, skip *Skiplist, opts Options, metrics *Metrics, log *slog.Logger) *Synchronizer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		market:   market,
		provider: p,
		store:    s,
		skip:     skip,
		opts:     opts,
		metrics:  metrics,
		log:      log.With("market", market, "component", "sync"),
	}
}

// Sync runs the batch/fallback download over window for universe. It
// returns a Summary in every case; the error is non-nil only when the
// window could not be cleared or ctx ended.
func (s *Synchronizer) Sync(ctx context.Context, universe []string, window calendar.Window) (Summary, error) {
	runStart := time.Now()
	sum := Summary{Market: s.market, Window: window, Failures: make(map[string]string)}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	universe = dedupe(universe)
	sum.Total = len(universe)

	tickers, skipped, err := s.skip.Filter(universe)
	if err != nil {
		return sum, fmt.Errorf("reading skiplist: %w", err)
	}
	sum.SkippedPermanent = len(skipped)

	s.log.Info("sync starting",
		"window_start", window.Start,
		"window_end", window.End,
		"end_excl", window.EndExclusive,
		"mode", window.Mode,
		"total", sum.Total,
		"skipped_perm", sum.SkippedPermanent,
		"batch_size", s.opts.BatchSize,
		"fallback_single", s.opts.FallbackSingle,
		"skiplist", s.skip.Path(),
	)

	deleted, err := s.store.DeleteFrom(ctx, window.Start)
	if err != nil {
		return sum, fmt.Errorf("clearing window from %s: %w", window.Start, err)
	}
	s.log.Info("window cleared", "from", window.Start, "rows", deleted)

	ok := make(map[string]struct{}, len(tickers))
	batches := partition(tickers, s.opts.BatchSize)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return s.finish(sum, ok, runStart), err
		}
		label := fmt.Sprintf("%d/%d", i+1, len(batches))

		batch, _, err = s.skip.Filter(batch)
		if err != nil {
			return s.finish(sum, ok, runStart), fmt.Errorf("reading skiplist: %w", err)
		}
		if len(batch) == 0 {
			s.sleep(ctx, s.opts.BatchSleep)
			continue
		}

		need, err := s.syncBatch(ctx, label, batch, window, ok, &sum)
		if err != nil {
			return s.finish(sum, ok, runStart), err
		}

		if s.opts.FallbackSingle {
			for _, sym := range need {
				if err := s.fallbackOne(ctx, sym, window, ok, &sum); err != nil {
					return s.finish(sum, ok, runStart), err
				}
				s.sleep(ctx, s.opts.SingleSleep)
			}
		}

		s.log.Info("batch done",
			"batch", label,
			"ok", len(ok),
			"failed", len(sum.Failures),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
		s.sleep(ctx, s.opts.BatchSleep)
	}

	s.recordFailures(ctx, sum)

	if maxDate, err := s.store.MaxDate(ctx); err == nil {
		sum.MaxDate = maxDate
		s.log.Info("stock_prices max date", "max_date", maxDate, "window_end", window.End)
	} else if !errors.Is(err, store.ErrNoData) {
		s.log.Warn("reading max date failed", "err", err)
	}

	s.vacuum(ctx)

	sum = s.finish(sum, ok, runStart)
	s.metrics.observe(sum, sum.Elapsed)
	s.log.Info("sync complete",
		"success", sum.Success,
		"failed", sum.Failed,
		"total", sum.Total,
		"skipped_perm", sum.SkippedPermanent,
		"newly_skipped", sum.NewlySkipped,
		"elapsed", sum.Elapsed.Round(time.Second),
	)
	return sum, nil
}

// syncBatch issues one bulk request and returns the symbols that need a
// single-symbol fallback. Only context errors are returned.
func (s *Synchronizer) syncBatch(ctx context.Context, label string, batch []string, window calendar.Window, ok map[string]struct{}, sum *Summary) ([]string, error) {
	res, err := s.provider.FetchDaily(ctx, batch, window.Start, window.EndExclusive)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.request(s.market, "batch", "error")
		s.log.Error("batch fetch failed", "batch", label, "size", len(batch), "err", err)
		s.failAll(batch, err.Error(), sum)
		return nil, nil
	}

	var bars []domain.Bar
	for _, sym := range batch {
		bars = append(bars, res.Bars[sym]...)
	}
	if len(bars) == 0 && len(res.Errors) == 0 {
		s.metrics.request(s.market, "batch", "empty")
		s.log.Error("batch fetch failed", "batch", label, "size", len(batch), "err", MsgBatchNoRows)
		s.failAll(batch, MsgBatchNoRows, sum)
		return nil, nil
	}
	s.metrics.request(s.market, "batch", "ok")

	if len(bars) > 0 {
		if _, err := s.store.UpsertBars(ctx, bars); err != nil {
			s.log.Error("writing batch failed", "batch", label, "err", err)
			s.failAll(batch, fmt.Sprintf("store: %v", err), sum)
			return nil, nil
		}
	}

	var need []string
	for _, sym := range batch {
		if hasClose(res.Bars[sym]) {
			ok[sym] = struct{}{}
			delete(sum.Failures, sym)
			continue
		}
		if reason, perm := provider.IsPermanent(res.Errors[sym]); perm {
			s.markPermanent(sym, reason, res.Errors[sym], sum)
			continue
		}
		if e := res.Errors[sym]; e != nil && provider.Classify(e).Kind == provider.KindShape {
			s.log.Warn("symbol response malformed", "symbol", sym, "kind", "shape", "err", e)
		}
		sum.Failures[sym] = MsgBatchMissing
		need = append(need, sym)
	}
	return need, nil
}

// fallbackOne retries one symbol on its own.
func (s *Synchronizer) fallbackOne(ctx context.Context, sym string, window calendar.Window, ok map[string]struct{}, sum *Summary) error {
	if skipped, err := s.skip.Contains(sym); err != nil {
		return fmt.Errorf("reading skiplist: %w", err)
	} else if skipped {
		delete(sum.Failures, sym)
		return nil
	}

	bars, err := s.fetchSingle(ctx, sym, window)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil && len(bars) > 0 {
		if _, werr := s.store.UpsertBars(ctx, bars); werr != nil {
			sum.Failures[sym] = fmt.Sprintf("store: %v", werr)
			return nil
		}
		s.metrics.request(s.market, "single", "ok")
		ok[sym] = struct{}{}
		delete(sum.Failures, sym)
		return nil
	}

	if reason, perm := provider.IsPermanent(err); perm {
		s.metrics.request(s.market, "single", "permanent")
		s.markPermanent(sym, reason, err, sum)
		return nil
	}
	s.metrics.request(s.market, "single", "error")
	switch {
	case errors.Is(err, errEmpty):
		sum.Failures[sym] = MsgEmpty
	case err != nil:
		sum.Failures[sym] = "exception: " + err.Error()
	default:
		sum.Failures[sym] = MsgEmpty
	}
	return nil
}

// fetchSingle fetches one symbol with up to MaxRetries extra attempts. The
// wait before a retry depends on whether the last attempt came back empty
// or failed; permanent errors stop at once.
func (s *Synchronizer) fetchSingle(ctx context.Context, sym string, window calendar.Window) ([]domain.Bar, error) {
	var (
		bars    []domain.Bar
		lastErr error
	)
	op := func() error {
		got, err := s.provider.FetchOne(ctx, sym, window.Start, window.EndExclusive)
		if err != nil {
			lastErr = err
			if _, perm := provider.IsPermanent(err); perm {
				return backoff.Permanent(err)
			}
			return err
		}
		if !hasClose(got) {
			lastErr = errEmpty
			return errEmpty
		}
		bars = got
		return nil
	}

	b := &kindBackOff{
		empty: s.opts.RetryEmptySleep,
		fail:  s.opts.RetryErrorSleep,
		last:  &lastErr,
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		s.log.Debug("single fetch retry", "symbol", sym, "err", err, "wait", d)
	})
	return bars, err
}

// kindBackOff waits a fixed delay chosen by the last attempt's outcome.
type kindBackOff struct {
	empty time.Duration
	fail  time.Duration
	last  *error
}

func (b *kindBackOff) NextBackOff() time.Duration {
	if b.last != nil && errors.Is(*b.last, errEmpty) {
		return b.empty
	}
	return b.fail
}

func (b *kindBackOff) Reset() {}

func (s *Synchronizer) markPermanent(sym, reason string, cause error, sum *Summary) {
	delete(sum.Failures, sym)
	added, err := s.skip.Add(sym, reason)
	if err != nil {
		s.log.Error("skiplist append failed", "symbol", sym, "err", err)
		sum.Failures[sym] = "skip_" + reason
		return
	}
	if added {
		sum.NewlySkipped++
		s.log.Warn("symbol skipped permanently", "symbol", sym, "reason", reason, "err", cause)
	}
}

func (s *Synchronizer) failAll(batch []string, msg string, sum *Summary) {
	for _, sym := range batch {
		sum.Failures[sym] = msg
	}
}

func (s *Synchronizer) recordFailures(ctx context.Context, sum Summary) {
	if len(sum.Failures) == 0 {
		return
	}
	rows := make([]store.DownloadError, 0, len(sum.Failures))
	for sym, msg := range sum.Failures {
		rows = append(rows, store.DownloadError{
			Symbol:    sym,
			StartDate: sum.Window.Start,
			EndDate:   sum.Window.End,
			Error:     msg,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	if err := s.store.RecordDownloadErrors(ctx, rows); err != nil {
		s.log.Error("recording download errors failed", "err", err)
	}
}

type sizer interface{ Size() int64 }

func (s *Synchronizer) vacuum(ctx context.Context) {
	var before int64
	sz, hasSize := s.store.(sizer)
	if hasSize {
		before = sz.Size()
	}
	start := time.Now()
	if err := s.store.Vacuum(ctx); err != nil {
		s.log.Warn("vacuum failed", "err", err)
		return
	}
	if hasSize {
		s.log.Info("vacuum done",
			"before", humanize.Bytes(uint64(before)),
			"after", humanize.Bytes(uint64(sz.Size())),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
}

func (s *Synchronizer) finish(sum Summary, ok map[string]struct{}, start time.Time) Summary {
	sum.Success = len(ok)
	sum.Failed = len(sum.Failures)
	sum.HasChanged = sum.Success > 0
	sum.Elapsed = time.Since(start)
	return sum
}

func (s *Synchronizer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func hasClose(bars []domain.Bar) bool {
	for _, b := range bars {
		if b.Close > 0 {
			return true
		}
	}
	return false
}

func partition(symbols []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		out = append(out, symbols[i:min(i+size, len(symbols))])
	}
	return out
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
