// Package universe loads instrument metadata into a market's store.
package universe

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"limitboard/internal/domain"
)

// columns maps accepted CSV header names to instrument fields.
var columns = map[string]string{
	"symbol":        "symbol",
	"ticker":        "symbol",
	"code":          "symbol",
	"name":          "name",
	"sector":        "sector",
	"industry":      "sector",
	"market_detail": "market_detail",
	"exchange":      "market_detail",
	"board":         "market_detail",
}

// Writer stores instruments.
type Writer interface {
	UpsertInstruments(ctx context.Context, insts []domain.Instrument) error
}

// LoadCSV reads a universe file with a header row. Only the symbol column
// is required; suffix is appended to symbols that carry no exchange suffix
// (".TO" for Toronto). Rows are deduplicated by symbol, last one wins.
func LoadCSV(path string, market domain.Market, suffix string) ([]domain.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()
	insts, err := ReadCSV(f, market, suffix)
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	return insts, nil
}

// ReadCSV is LoadCSV over a reader.
func ReadCSV(r io.Reader, market domain.Market, suffix string) ([]domain.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := columns[key]; ok {
			if _, dup := idx[field]; !dup {
				idx[field] = i
			}
		}
	}
	if _, ok := idx["symbol"]; !ok {
		return nil, fmt.Errorf("no symbol column in header %v", header)
	}

	now := time.Now().UTC()
	pos := make(map[string]int)
	var out []domain.Instrument
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(field string) string {
			i, ok := idx[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		sym := WithSuffix(get("symbol"), suffix)
		if sym == "" {
			continue
		}
		inst := domain.Instrument{
			Symbol:       sym,
			Name:         get("name"),
			Sector:       get("sector"),
			Market:       market,
			MarketDetail: get("market_detail"),
			UpdatedAt:    now,
		}
		if i, seen := pos[sym]; seen {
			out[i] = inst
			continue
		}
		pos[sym] = len(out)
		out = append(out, inst)
	}
	return out, nil
}

// WithSuffix normalises sym and appends suffix when sym has none.
func WithSuffix(sym, suffix string) string {
	sym = domain.NormalizeSymbol(sym)
	if sym == "" || suffix == "" || strings.Contains(sym, ".") {
		return sym
	}
	return sym + strings.ToUpper(suffix)
}

// Import stores insts and returns how many were written.
func Import(ctx context.Context, w Writer, insts []domain.Instrument) (int, error) {
	if len(insts) == 0 {
		return 0, nil
	}
	if err := w.UpsertInstruments(ctx, insts); err != nil {
		return 0, fmt.Errorf("storing instruments: %w", err)
	}
	return len(insts), nil
}
