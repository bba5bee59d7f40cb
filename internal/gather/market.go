package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"limitboard/internal/calendar"
	"limitboard/internal/util"
)

var _ Gatherer = (*MarketGatherer)(nil)

// UniverseSource lists the symbols a market syncs.
type UniverseSource interface {
	UniverseSymbols(ctx context.Context) ([]string, error)
}

// ErrEmptyUniverse is returned when a market has no instruments to sync.
var ErrEmptyUniverse = errors.New("gather: empty universe")

// WindowSpec is the calendar part of a sync request; AsOf is filled per run.
type WindowSpec struct {
	CalendarTicker  string
	LagDays         int
	NTradingDays    int
	LookbackCalDays int
	FallbackCalDays int
}

// MarketGatherer runs one market's sync: resolve the window, load the
// universe, download.
type MarketGatherer struct {
	market   string
	resolver *calendar.Resolver
	spec     WindowSpec
	clock    *util.MarketClock
	universe UniverseSource
	sync     *Synchronizer
	log      *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu   sync.Mutex
	last *Summary
}

// NewMarketGatherer wires the pieces of one market's sync.
func NewMarketGatherer(market string, resolver *calendar.Resolver, spec WindowSpec, clock *util.MarketClock, universe UniverseSource, s *Synchronizer, log *slog.Logger) *MarketGatherer {
	if log == nil {
		log = slog.Default()
	}
	return &MarketGatherer{
		market:   market,
		resolver: resolver,
		spec:     spec,
		clock:    clock,
		universe: universe,
		sync:     s,
		log:      log.With("gatherer", market+"-sync"),
		now:      time.Now,
	}
}

// Name returns the gatherer identifier.
func (g *MarketGatherer) Name() string { return g.market + "-sync" }

// Run syncs the window ending at the market's lagged local date.
func (g *MarketGatherer) Run(ctx context.Context) error {
	_, err := g.SyncAsOf(ctx, "")
	return err
}

// SyncAsOf syncs the window resolved for asOf (YYYY-MM-DD). An empty asOf
// means the market-local date shifted back by the configured lag.
func (g *MarketGatherer) SyncAsOf(ctx context.Context, asOf string) (Summary, error) {
	if asOf == "" {
		asOf = g.clock.LocalDate(g.now(), g.spec.LagDays)
	}
	window := g.resolver.Resolve(ctx, calendar.Request{
		Market:          g.market,
		CalendarTicker:  g.spec.CalendarTicker,
		AsOf:            asOf,
		NTradingDays:    g.spec.NTradingDays,
		LookbackCalDays: g.spec.LookbackCalDays,
		FallbackCalDays: g.spec.FallbackCalDays,
	})

	symbols, err := g.universe.UniverseSymbols(ctx)
	if err != nil {
		return Summary{Market: g.market, Window: window}, fmt.Errorf("loading universe: %w", err)
	}
	if len(symbols) == 0 {
		return Summary{Market: g.market, Window: window}, ErrEmptyUniverse
	}

	sum, err := g.sync.Sync(ctx, symbols, window)
	g.mu.Lock()
	g.last = &sum
	g.mu.Unlock()
	if err != nil {
		g.log.Error("sync failed", "asof", asOf, "err", err)
		return sum, err
	}
	return sum, nil
}

// LastSummary returns the most recent run's summary, if any.
func (g *MarketGatherer) LastSummary() (Summary, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return Summary{}, false
	}
	return *g.last, true
}
