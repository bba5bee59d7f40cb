package universe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"limitboard/internal/domain"
	"limitboard/internal/util"
)

// AlpacaAssets lists active, tradable US equities from the Alpaca assets
// endpoint. Alpaca carries no sector, so it is left blank.
type AlpacaAssets struct {
	client *alpaca.Client
}

// NewAlpacaAssets creates an AlpacaAssets. baseURL may be empty.
func NewAlpacaAssets(apiKey, apiSecret, baseURL string) *AlpacaAssets {
	return &AlpacaAssets{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Instruments returns the asset list sorted by symbol.
func (a *AlpacaAssets) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var assets []alpaca.Asset
	err := util.Retry(ctx, 3, time.Second, func() error {
		var err error
		assets, err = a.client.GetAssets(alpaca.GetAssetsRequest{
			Status:     "active",
			AssetClass: "us_equity",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}
	now := time.Now().UTC()
	out := make([]domain.Instrument, 0, len(assets))
	for _, as := range assets {
		if !as.Tradable {
			continue
		}
		out = append(out, domain.Instrument{
			Symbol:       domain.NormalizeSymbol(as.Symbol),
			Name:         as.Name,
			Market:       domain.MarketUS,
			MarketDetail: string(as.Exchange),
			UpdatedAt:    now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
