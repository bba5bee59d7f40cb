package pipeline

import (
	"fmt"
	"log/slog"

	"limitboard/internal/aggregate"
	"limitboard/internal/calendar"
	"limitboard/internal/config"
	"limitboard/internal/flags"
	"limitboard/internal/gather"
	"limitboard/internal/limitrule"
	"limitboard/internal/provider"
	"limitboard/internal/snapshot"
	"limitboard/internal/store"
	"limitboard/internal/util"
)

// Market is one configured market with every stage wired.
type Market struct {
	Code     string
	Config   *config.MarketConfig
	Store    *store.SQLiteStore
	Clock    *util.MarketClock
	Skiplist *gather.Skiplist
	Gatherer *gather.MarketGatherer
	Calc     *flags.Calculator

	log *slog.Logger
}

// Builder returns a snapshot builder for slot.
func (m *Market) Builder(slot string) *snapshot.Builder {
	return snapshot.NewBuilder(m.Calc, m.Store, m.Clock, snapshot.Options{
		Market:   m.Code,
		Slot:     slot,
		NoLimit:  m.Config.NoLimit(),
		Lookback: m.Config.FlagLookbackDays,
	}, m.log)
}

// AggregateOptions returns the market's aggregation filters.
func (m *Market) AggregateOptions() aggregate.Options {
	rc := m.Config.Rule
	opts := aggregate.Options{
		NoLimit:        m.Config.NoLimit(),
		Threshold:      rc.Threshold,
		TouchThreshold: rc.TouchThreshold,
		ThemeThreshold: rc.ThemeThreshold,
	}
	if !opts.NoLimit {
		opts.Threshold = m.Config.Streak.Threshold
		opts.TouchThreshold = 0
		opts.ThemeThreshold = 0
	}
	for _, o := range m.Config.Overrides {
		opts.Overrides = append(opts.Overrides, aggregate.Override{
			Name:       o.Name,
			Metric:     o.Metric,
			ExcludeTag: o.ExcludeTag,
		})
	}
	return opts
}

// Close releases the market's store.
func (m *Market) Close() error { return m.Store.Close() }

// newMarket wires one market. prov supplies bars; dates and cache back the
// calendar resolver.
func newMarket(cfg *config.Config, mc *config.MarketConfig, prov provider.Provider, dates calendar.DateSource, cache calendar.Cache, metrics *gather.Metrics, log *slog.Logger) (*Market, error) {
	log = log.With("market", mc.Code)

	clock, err := util.NewMarketClock(mc.Timezone, mc.Location(), mc.SessionOpen, mc.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("market %s clock: %w", mc.Code, err)
	}
	rule, err := limitrule.FromConfig(mc.Rule)
	if err != nil {
		return nil, fmt.Errorf("market %s rule: %w", mc.Code, err)
	}
	st, err := store.NewSQLiteStore(cfg.DBPath(mc))
	if err != nil {
		return nil, fmt.Errorf("market %s store: %w", mc.Code, err)
	}

	skip := gather.NewSkiplist(cfg.SkiplistPath(mc))
	syncer := gather.NewSynchronizer(mc.Code, prov, st, skip, gather.OptionsFromConfig(mc.Sync), metrics, log)
	resolver := calendar.NewResolver(dates, cache, log)
	g := gather.NewMarketGatherer(mc.Code, resolver, gather.WindowSpec{
		CalendarTicker:  mc.CalendarTicker,
		LagDays:         mc.LagDays,
		NTradingDays:    mc.Window.RollingTradingDays,
		LookbackCalDays: mc.Window.LookbackCalDays,
		FallbackCalDays: mc.Window.FallbackCalDays,
	}, clock, st, syncer, log)

	calc := flags.NewCalculator(rule, st, flags.Options{
		Mode:      flags.StreakMode(mc.Streak.Mode),
		Threshold: mc.Streak.Threshold,
	})

	return &Market{
		Code:     mc.Code,
		Config:   mc,
		Store:    st,
		Clock:    clock,
		Skiplist: skip,
		Gatherer: g,
		Calc:     calc,
		log:      log,
	}, nil
}
