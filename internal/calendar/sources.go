package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"limitboard/internal/domain"
	"limitboard/internal/provider"
	"limitboard/internal/util"
)

var (
	_ DateSource = (*ProviderDates)(nil)
	_ DateSource = (*AlpacaCalendar)(nil)
)

// ProviderDates lists trading dates from a proxy ticker's daily bars.
type ProviderDates struct {
	Provider provider.Provider
}

// Dates returns the sorted dates of the ticker's bars.
func (p ProviderDates) Dates(ctx context.Context, ticker, start, endExclusive string) ([]string, error) {
	bars, err := p.Provider.FetchOne(ctx, ticker, start, endExclusive)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			dates = append(dates, b.Date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// AlpacaCalendar lists US trading days from the Alpaca trading calendar.
// The ticker is ignored.
type AlpacaCalendar struct {
	client *alpaca.Client
}

// NewAlpacaCalendar creates an AlpacaCalendar. baseURL may be empty.
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *AlpacaCalendar {
	return &AlpacaCalendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Dates returns trading days in [start, endExclusive). The request is
// retried a few times before the resolver falls back to calendar days.
func (a *AlpacaCalendar) Dates(ctx context.Context, _ string, start, endExclusive string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, err := domain.ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := domain.ParseDate(endExclusive)
	if err != nil {
		return nil, err
	}

	var dates []string
	err = util.Retry(ctx, 3, time.Second, func() error {
		days, err := a.client.GetCalendar(alpaca.GetCalendarRequest{
			Start: from,
			End:   to.Add(-24 * time.Hour),
		})
		if err != nil {
			return err
		}
		dates = make([]string, 0, len(days))
		for _, day := range days {
			if day.Date >= start && day.Date < endExclusive {
				dates = append(dates, day.Date)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	sort.Strings(dates)
	return dates, nil
}
