package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"limitboard/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Warehouse = (*SQLiteStore)(nil)

// SQLiteStore is one market's price warehouse in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serialises writers
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, switches it
// to WAL mode and creates missing tables.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stock_prices (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume INTEGER,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_date ON stock_prices(date)`,

		`CREATE TABLE IF NOT EXISTS stock_info (
			symbol        TEXT PRIMARY KEY,
			name          TEXT,
			sector        TEXT,
			market        TEXT,
			market_detail TEXT,
			updated_at    TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS download_errors (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			name       TEXT,
			start_date TEXT,
			end_date   TEXT,
			error      TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Size returns the database file size in bytes, WAL included.
func (s *SQLiteStore) Size() int64 {
	var n int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			n += fi.Size()
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) DeleteFrom(ctx context.Context, start string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stock_prices WHERE date >= ?`, start)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("delete window: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_prices (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, b := range bars {
		if !b.Valid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert %s %s: %w", b.Symbol, b.Date, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bars: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) MaxDate(ctx context.Context) (string, error) {
	return s.queryDate(ctx, `SELECT MAX(date) FROM stock_prices`)
}

func (s *SQLiteStore) LatestDateWithClose(ctx context.Context, asOf string) (string, error) {
	return s.queryDate(ctx,
		`SELECT MAX(date) FROM stock_prices WHERE date <= ? AND close IS NOT NULL AND close > 0`, asOf)
}

func (s *SQLiteStore) queryDate(ctx context.Context, q string, args ...any) (string, error) {
	var d sql.NullString
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&d); err != nil {
		return "", err
	}
	if !d.Valid || d.String == "" {
		return "", ErrNoData
	}
	return d.String, nil
}

func (s *SQLiteStore) TradingDates(ctx context.Context, asOf string, n int) ([]string, error) {
	dates, err := s.queryStrings(ctx,
		`SELECT DISTINCT date FROM stock_prices WHERE date <= ? ORDER BY date DESC LIMIT ?`, asOf, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}
	return dates, nil
}

func (s *SQLiteStore) BarsBetween(ctx context.Context, start, end string) ([]domain.Bar, error) {
	return s.queryBars(ctx, `SELECT symbol, date, open, high, low, close, volume FROM stock_prices
		WHERE date >= ? AND date <= ? ORDER BY symbol, date`, start, end)
}

func (s *SQLiteStore) BarsOn(ctx context.Context, date string) ([]domain.Bar, error) {
	return s.queryBars(ctx, `SELECT symbol, date, open, high, low, close, volume FROM stock_prices
		WHERE date = ? ORDER BY symbol`, date)
}

func (s *SQLiteStore) CountOn(ctx context.Context, date string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_prices WHERE date = ?`, date).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Dates(ctx context.Context, limit int) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT date FROM stock_prices ORDER BY date DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) PriceSymbols(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT symbol FROM stock_prices ORDER BY symbol`)
}

func (s *SQLiteStore) queryBars(ctx context.Context, q string, args ...any) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			b          domain.Bar
			o, h, l, c sql.NullFloat64
			v          sql.NullInt64
		)
		if err := rows.Scan(&b.Symbol, &b.Date, &o, &h, &l, &c, &v); err != nil {
			return nil, err
		}
		b.Open, b.High, b.Low, b.Close, b.Volume = o.Float64, h.Float64, l.Float64, c.Float64, v.Int64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *SQLiteStore) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// MetaStore implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) UpsertInstruments(ctx context.Context, insts []domain.Instrument) error {
	if len(insts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_info (symbol, name, sector, market, market_detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name, sector = excluded.sector, market = excluded.market,
			market_detail = excluded.market_detail, updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, in := range insts {
		ts := in.UpdatedAt
		if ts.IsZero() {
			ts = now
		}
		if _, err := stmt.ExecContext(ctx, in.Symbol, in.Name, in.Sector, string(in.Market),
			in.MarketDetail, ts.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert instrument %s: %w", in.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, name, sector, market, market_detail, updated_at
		FROM stock_info ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var (
			in                                domain.Instrument
			name, sector, market, detail, upd sql.NullString
		)
		if err := rows.Scan(&in.Symbol, &name, &sector, &market, &detail, &upd); err != nil {
			return nil, err
		}
		in.Name, in.Sector, in.MarketDetail = name.String, sector.String, detail.String
		in.Market = domain.Market(market.String)
		if t, err := time.Parse(time.RFC3339, upd.String); err == nil {
			in.UpdatedAt = t
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UniverseSymbols(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT symbol FROM stock_info ORDER BY symbol`)
}

// ---------------------------------------------------------------------------
// ErrorLog implementation
// ---------------------------------------------------------------------------

func (s *SQLiteStore) RecordDownloadErrors(ctx context.Context, errs []DownloadError) error {
	if len(errs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO download_errors (symbol, name, start_date, end_date, error, created_at)
		VALUES (?, COALESCE(NULLIF(?, ''), (SELECT name FROM stock_info WHERE symbol = ?), ''), ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx, e.Symbol, e.Name, e.Symbol, e.StartDate, e.EndDate, e.Error, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("record download error %s: %w", e.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DownloadErrors(ctx context.Context, limit int) ([]DownloadError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, name, start_date, end_date, error, created_at
		FROM download_errors ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DownloadError
	for rows.Next() {
		var (
			e                          DownloadError
			name, sd, ed, msg, created sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Symbol, &name, &sd, &ed, &msg, &created); err != nil {
			return nil, err
		}
		e.Name, e.StartDate, e.EndDate, e.Error = name.String, sd.String, ed.String, msg.String
		if t, err := time.Parse(time.RFC3339, created.String); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Vacuum rebuilds the database file to reclaim the space freed by the
// window delete.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// IsNoData reports whether err is ErrNoData.
func IsNoData(err error) bool { return errors.Is(err, ErrNoData) }
