// Package pipeline wires configured markets end to end: sync, snapshot,
// aggregate and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"limitboard/internal/aggregate"
	"limitboard/internal/calendar"
	"limitboard/internal/config"
	"limitboard/internal/domain"
	"limitboard/internal/gather"
	"limitboard/internal/provider"
	"limitboard/internal/publish"
	"limitboard/internal/snapshot"
	"limitboard/internal/store"
)

// ProviderFunc builds the bar provider of a market.
type ProviderFunc func(cfg *config.Config, mc *config.MarketConfig) (provider.Provider, error)

// Options configures New.
type Options struct {
	// Markets restricts the pipeline to these codes; empty means every
	// enabled market.
	Markets []string
	// Registerer receives sync metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	// Provider overrides DefaultProvider.
	Provider ProviderFunc
	// Sinks are added after the configured ones.
	Sinks []publish.Sink
}

// Pipeline owns every market and the publisher.
type Pipeline struct {
	cfg     *config.Config
	markets map[string]*Market
	codes   []string
	files   *publish.FileSink
	kafka   *publish.KafkaSink
	redis   *redis.Client
	log     *slog.Logger

	mu    sync.Mutex
	sinks []publish.Sink
	// runMu serialises runs per market.
	runMu map[string]*sync.Mutex
}

// New wires the markets named by opts from cfg.
func New(cfg *config.Config, opts Options, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Provider == nil {
		opts.Provider = DefaultProvider
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	codes := opts.Markets
	if len(codes) == 0 {
		codes = cfg.MarketCodes()
	}

	p := &Pipeline{
		cfg:     cfg,
		markets: make(map[string]*Market, len(codes)),
		files:   publish.NewFileSink(cfg.PayloadDir()),
		log:     log.With("component", "pipeline"),
		runMu:   make(map[string]*sync.Mutex, len(codes)),
	}
	p.sinks = append(p.sinks, p.files)
	if !cfg.Storage.DisableArchive {
		p.sinks = append(p.sinks, publish.NewArchiveSink(store.NewParquetStore(cfg.ArchiveDir())))
	}
	if cfg.Kafka.Enabled() {
		ks, err := publish.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
		if err != nil {
			return nil, err
		}
		p.kafka = ks
		p.sinks = append(p.sinks, ks)
	}
	p.sinks = append(p.sinks, opts.Sinks...)

	if cfg.CalendarCache.Backend == "redis" {
		p.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	metrics := gather.NewMetrics(opts.Registerer)
	for _, code := range codes {
		mc, err := cfg.Market(code)
		if err != nil {
			p.Close()
			return nil, err
		}
		prov, err := opts.Provider(cfg, mc)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("market %s provider: %w", code, err)
		}
		cache, err := p.calendarCache(mc)
		if err != nil {
			p.Close()
			return nil, err
		}
		m, err := newMarket(cfg, mc, prov, p.dateSource(mc, prov), cache, metrics, log)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.markets[code] = m
		p.runMu[code] = &sync.Mutex{}
		p.codes = append(p.codes, code)
	}
	sort.Strings(p.codes)
	return p, nil
}

// DefaultProvider picks Yahoo or Alpaca by the market's provider setting.
func DefaultProvider(cfg *config.Config, mc *config.MarketConfig) (provider.Provider, error) {
	switch mc.Provider {
	case "alpaca":
		if !cfg.Alpaca.Enabled() {
			return nil, errors.New("alpaca provider needs api_key and api_secret")
		}
		return provider.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed), nil
	default:
		return provider.NewYahoo(provider.YahooOptions{
			BaseURL:        cfg.Yahoo.BaseURL,
			ProxyURL:       cfg.Yahoo.ProxyURL,
			UserAgent:      cfg.Yahoo.UserAgent,
			Timeout:        cfg.Yahoo.Timeout,
			Threads:        mc.Sync.Threads,
			RequestsPerMin: cfg.Yahoo.RequestsPerMin,
		}), nil
	}
}

func (p *Pipeline) dateSource(mc *config.MarketConfig, prov provider.Provider) calendar.DateSource {
	if domain.Market(mc.Code) == domain.MarketUS && p.cfg.Alpaca.Enabled() {
		return calendar.NewAlpacaCalendar(p.cfg.Alpaca.APIKey, p.cfg.Alpaca.APISecret, p.cfg.Alpaca.BaseURL)
	}
	return calendar.ProviderDates{Provider: prov}
}

func (p *Pipeline) calendarCache(mc *config.MarketConfig) (calendar.Cache, error) {
	if p.redis != nil {
		return calendar.NewRedisCache(p.redis, p.cfg.CalendarCache.TTL)
	}
	return calendar.NewFileCache(p.cfg.CalendarCacheDir(mc)), nil
}

// Markets returns the wired market codes, sorted.
func (p *Pipeline) Markets() []string { return p.codes }

// Market returns one wired market.
func (p *Pipeline) Market(code string) (*Market, error) {
	m, ok := p.markets[code]
	if !ok {
		return nil, fmt.Errorf("market %q is not wired", code)
	}
	return m, nil
}

// Files returns the payload file sink, which also reads payloads back.
func (p *Pipeline) Files() *publish.FileSink { return p.files }

// AddSink registers another sink for subsequent publishes.
func (p *Pipeline) AddSink(s publish.Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

func (p *Pipeline) publisher() *publish.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return publish.NewPublisher(p.log, p.sinks...)
}

// Sync refreshes one market's bars. An empty asOf means the market-local
// today minus its lag.
func (p *Pipeline) Sync(ctx context.Context, code, asOf string) (gather.Summary, error) {
	m, err := p.Market(code)
	if err != nil {
		return gather.Summary{}, err
	}
	return m.Gatherer.SyncAsOf(ctx, asOf)
}

// Snapshot builds, aggregates and publishes one market. An empty ymd
// means the market-local today.
func (p *Pipeline) Snapshot(ctx context.Context, code, slot, ymd string) (*publish.Payload, error) {
	m, err := p.Market(code)
	if err != nil {
		return nil, err
	}
	snap, err := m.Builder(slot).Build(ctx, ymd)
	if err != nil {
		return nil, fmt.Errorf("market %s snapshot: %w", code, err)
	}
	payload := publish.NewPayload(snap, aggregate.Aggregate(snap, m.AggregateOptions()))
	if err := p.publisher().Publish(ctx, payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// SnapshotAll builds every market's snapshot concurrently, aggregates them
// together and publishes each payload. A market that fails to build is
// reported in the joined error; the others are still published.
func (p *Pipeline) SnapshotAll(ctx context.Context, slot, ymd string) (map[string]*publish.Payload, error) {
	snaps := make([]*snapshot.Snapshot, len(p.codes))
	errs := make([]error, len(p.codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, code := range p.codes {
		i, code := i, code
		m := p.markets[code]
		g.Go(func() error {
			snap, err := m.Builder(slot).Build(gctx, ymd)
			if err != nil {
				errs[i] = fmt.Errorf("market %s snapshot: %w", code, err)
				return nil
			}
			snaps[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	opts := make(map[string]aggregate.Options, len(p.codes))
	for code, m := range p.markets {
		opts[code] = m.AggregateOptions()
	}
	results, err := aggregate.AggregateAll(ctx, snaps, opts)
	if err != nil {
		return nil, err
	}

	pub := p.publisher()
	out := make(map[string]*publish.Payload, len(results))
	for _, snap := range snaps {
		if snap == nil {
			continue
		}
		payload := publish.NewPayload(snap, results[snap.Market])
		out[snap.Market] = payload
		if err := pub.Publish(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Run syncs then snapshots one market. Concurrent runs of the same market
// are serialised.
func (p *Pipeline) Run(ctx context.Context, code, slot string) error {
	mu, ok := p.runMu[code]
	if !ok {
		return fmt.Errorf("market %q is not wired", code)
	}
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	sum, err := p.Sync(ctx, code, "")
	if err != nil {
		return fmt.Errorf("market %s sync: %w", code, err)
	}
	payload, err := p.Snapshot(ctx, code, slot, "")
	if err != nil {
		return err
	}
	p.log.Info("market run complete",
		"market", code,
		"slot", slot,
		"synced", sum.Success,
		"failed", sum.Failed,
		"ymd", payload.YmdEffective,
		"limit_list", payload.Stats.LimitListCnt,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// Close releases stores and clients.
func (p *Pipeline) Close() error {
	var errs []error
	for _, m := range p.markets {
		errs = append(errs, m.Close())
	}
	if p.kafka != nil {
		errs = append(errs, p.kafka.Close())
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	return errors.Join(errs...)
}
