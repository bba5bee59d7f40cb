// Package store defines storage interfaces for the per-market price
// warehouse and the snapshot archive, with SQLite and Parquet
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"limitboard/internal/domain"
)

// ErrNoData is returned when a query has no rows to answer from.
var ErrNoData = errors.New("store: no data")

// PriceStore persists and retrieves daily bars. Dates are YYYY-MM-DD.
type PriceStore interface {
	// DeleteFrom removes every bar dated on or after start and commits.
	DeleteFrom(ctx context.Context, start string) (int64, error)

	// UpsertBars writes bars keyed by (symbol, date). Invalid bars are
	// skipped; the number written is returned.
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)

	// MaxDate returns the latest stored date, or ErrNoData.
	MaxDate(ctx context.Context) (string, error)

	// LatestDateWithClose returns the latest date on or before asOf that
	// has at least one close, or ErrNoData.
	LatestDateWithClose(ctx context.Context, asOf string) (string, error)

	// TradingDates returns the last n distinct dates on or before asOf in
	// ascending order.
	TradingDates(ctx context.Context, asOf string, n int) ([]string, error)

	// BarsBetween returns bars in [start, end] ordered by (symbol, date).
	BarsBetween(ctx context.Context, start, end string) ([]domain.Bar, error)

	// BarsOn returns every bar dated date.
	BarsOn(ctx context.Context, date string) ([]domain.Bar, error)

	// CountOn returns the number of bars dated date.
	CountOn(ctx context.Context, date string) (int, error)

	// Dates returns up to limit distinct dates, newest first.
	Dates(ctx context.Context, limit int) ([]string, error)

	// PriceSymbols returns every symbol with at least one bar.
	PriceSymbols(ctx context.Context) ([]string, error)
}

// MetaStore persists instrument metadata.
type MetaStore interface {
	// UpsertInstruments inserts or refreshes metadata rows.
	UpsertInstruments(ctx context.Context, insts []domain.Instrument) error

	// Instruments returns all metadata rows ordered by symbol.
	Instruments(ctx context.Context) ([]domain.Instrument, error)

	// UniverseSymbols returns the symbols of all metadata rows.
	UniverseSymbols(ctx context.Context) ([]string, error)
}

// DownloadError is one failed symbol from a sync run.
type DownloadError struct {
	ID        int64
	Symbol    string
	Name      string
	StartDate string
	EndDate   string
	Error     string
	CreatedAt time.Time
}

// ErrorLog records symbols a sync could not download.
type ErrorLog interface {
	// RecordDownloadErrors appends rows; Name is filled from metadata when
	// blank.
	RecordDownloadErrors(ctx context.Context, errs []DownloadError) error

	// DownloadErrors returns the newest rows first, up to limit.
	DownloadErrors(ctx context.Context, limit int) ([]DownloadError, error)
}

// Warehouse is everything one market's pipeline needs from storage.
type Warehouse interface {
	PriceStore
	MetaStore
	ErrorLog

	// Vacuum compacts the database file.
	Vacuum(ctx context.Context) error

	Close() error
}
