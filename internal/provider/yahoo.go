package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"limitboard/internal/domain"
	"limitboard/internal/util"
)

var _ Provider = (*Yahoo)(nil)

// YahooOptions configures the Yahoo chart client.
type YahooOptions struct {
	BaseURL        string
	ProxyURL       string
	UserAgent      string
	Timeout        time.Duration
	Threads        int
	RequestsPerMin int
}

// Yahoo implements Provider using the public Yahoo Finance chart API. A
// bulk fetch requests symbols concurrently, bounded by Threads, behind a
// shared rate limiter.
type Yahoo struct {
	client    *http.Client
	baseURL   string
	userAgent string
	threads   int
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewYahoo creates a Yahoo client.
func NewYahoo(opts YahooOptions) *Yahoo {
	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		if u, err := url.Parse(opts.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://query1.finance.yahoo.com"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	return &Yahoo{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		threads:   opts.Threads,
		limiter:   util.NewRateLimiter(opts.RequestsPerMin),
		log:       slog.Default().With("provider", "yahoo"),
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
				GMTOffset            int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(v interface{}) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func at(vals []interface{}, i int) float64 {
	if i >= len(vals) {
		return 0
	}
	return toFloat(vals[i])
}

// FetchDaily fetches every symbol concurrently. Per-symbol failures land
// in Batch.Errors; the call itself fails only when the context ends or
// every symbol failed transiently.
func (y *Yahoo) FetchDaily(ctx context.Context, symbols []string, start, endExclusive string) (Batch, error) {
	batch := Batch{
		Bars:   make(map[string][]domain.Bar, len(symbols)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(y.threads)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := y.limiter.Wait(gctx); err != nil {
				return err
			}
			bars, err := y.FetchOne(gctx, sym, start, endExclusive)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors[sym] = err
				return nil
			}
			if len(bars) > 0 {
				batch.Bars[sym] = bars
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, fmt.Errorf("yahoo batch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	if len(symbols) > 0 && len(batch.Errors) == len(symbols) {
		transient := 0
		var first error
		for _, sym := range symbols {
			if e := Classify(batch.Errors[sym]); e.Kind != KindPermanent {
				transient++
				if first == nil {
					first = e
				}
			}
		}
		if transient == len(symbols) {
			return Batch{}, fmt.Errorf("yahoo batch: all %d symbols failed: %w", len(symbols), first)
		}
	}
	return batch, nil
}

// FetchOne fetches one symbol's daily bars over [start, endExclusive).
func (y *Yahoo) FetchOne(ctx context.Context, symbol, start, endExclusive string) ([]domain.Bar, error) {
	from, err := domain.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	to, err := domain.ParseDate(endExclusive)
	if err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}

	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprint(from.Unix()))
	q.Set("period2", fmt.Sprint(to.Unix()))
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", y.userAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("yahoo: status %d for %s", resp.StatusCode, symbol)
		}
		return nil, NewShape(symbol, "yahoo decode: %v", err)
	}
	if chart.Chart.Error != nil {
		ce := Classify(errors.New(chart.Chart.Error.Description))
		ce.Symbol = symbol
		return nil, ce
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d for %s", resp.StatusCode, symbol)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if result.Meta.ExchangeTimezoneName == "" {
		return nil, NewPermanent(symbol, ReasonTZMissing, errors.New("no timezone found"))
	}
	if len(result.Timestamp) == 0 {
		return nil, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, NewShape(symbol, "yahoo: quote block missing")
	}

	loc, err := time.LoadLocation(result.Meta.ExchangeTimezoneName)
	if err != nil {
		loc = time.FixedZone(result.Meta.ExchangeTimezoneName, int(result.Meta.GMTOffset))
	}

	quote := result.Indicators.Quote[0]
	byDate := make(map[string]domain.Bar, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		bar, ok := Normalize(domain.Bar{
			Symbol: symbol,
			Date:   time.Unix(ts, 0).In(loc).Format(domain.DateLayout),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  at(quote.Close, i),
			Volume: int64(at(quote.Volume, i)),
		})
		if !ok {
			continue // null rows (holidays, suspensions)
		}
		if bar.Date < start || bar.Date >= endExclusive {
			continue
		}
		byDate[bar.Date] = bar
	}

	bars := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}
