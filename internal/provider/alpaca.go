package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"limitboard/internal/domain"
)

var _ Provider = (*Alpaca)(nil)

// Alpaca implements Provider using the Alpaca market-data API. Daily bars
// are stamped at midnight New York time.
type Alpaca struct {
	client *marketdata.Client
	feed   string
	loc    *time.Location
}

// NewAlpaca creates an Alpaca provider. dataURL may be empty.
func NewAlpaca(apiKey, apiSecret, dataURL, feed string) *Alpaca {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("America/New_York", -5*3600)
	}
	return &Alpaca{
		client: marketdata.NewClient(opts),
		feed:   feed,
		loc:    loc,
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) request(start, endExclusive string) (marketdata.GetBarsRequest, error) {
	from, err := time.ParseInLocation(domain.DateLayout, start, a.loc)
	if err != nil {
		return marketdata.GetBarsRequest{}, fmt.Errorf("parse start: %w", err)
	}
	to, err := time.ParseInLocation(domain.DateLayout, endExclusive, a.loc)
	if err != nil {
		return marketdata.GetBarsRequest{}, fmt.Errorf("parse end: %w", err)
	}
	return marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Raw,
		Start:      from,
		End:        to.Add(-time.Second),
		Feed:       marketdata.Feed(a.feed),
	}, nil
}

// FetchDaily fetches all symbols with one GetMultiBars call.
func (a *Alpaca) FetchDaily(ctx context.Context, symbols []string, start, endExclusive string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	req, err := a.request(start, endExclusive)
	if err != nil {
		return Batch{}, err
	}

	multiBars, err := a.client.GetMultiBars(symbols, req)
	if err != nil {
		return Batch{}, fmt.Errorf("GetMultiBars: %w", err)
	}

	batch := Batch{Bars: make(map[string][]domain.Bar, len(multiBars))}
	for symbol, alpacaBars := range multiBars {
		sym := strings.ToUpper(symbol)
		if bars := a.convert(sym, alpacaBars); len(bars) > 0 {
			batch.Bars[sym] = bars
		}
	}
	return batch, nil
}

// FetchOne fetches one symbol with GetBars.
func (a *Alpaca) FetchOne(ctx context.Context, symbol, start, endExclusive string) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := a.request(start, endExclusive)
	if err != nil {
		return nil, err
	}
	alpacaBars, err := a.client.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return a.convert(strings.ToUpper(symbol), alpacaBars), nil
}

func (a *Alpaca) convert(symbol string, in []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(in))
	for _, ab := range in {
		bar, ok := Normalize(domain.Bar{
			Symbol: symbol,
			Date:   ab.Timestamp.In(a.loc).Format(domain.DateLayout),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
		if ok {
			bars = append(bars, bar)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars
}
