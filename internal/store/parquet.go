package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ParquetStore archives snapshot rows as Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// SnapshotRecord is the Parquet schema for one archived snapshot row.
type SnapshotRecord struct {
	Market       string  `parquet:"market"`
	Date         string  `parquet:"date"`
	Slot         string  `parquet:"slot"`
	Symbol       string  `parquet:"symbol"`
	Name         string  `parquet:"name"`
	Sector       string  `parquet:"sector"`
	MarketDetail string  `parquet:"market_detail"`
	Tag          string  `parquet:"tag"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       int64   `parquet:"volume"`
	PrevClose    float64 `parquet:"prev_close"`
	Ret          float64 `parquet:"ret"`
	RetHigh      float64 `parquet:"ret_high"`
	LimitPrice   float64 `parquet:"limit_price"`
	Locked       bool    `parquet:"locked"`
	TouchedOnly  bool    `parquet:"touched_only"`
	Streak       int32   `parquet:"streak"`
	StreakPrev   int32   `parquet:"streak_prev"`
}

// SnapshotKey identifies one archived snapshot file.
type SnapshotKey struct {
	Market string
	Date   string
	Slot   string
}

// ---------------------------------------------------------------------------
// Snapshot archive
// ---------------------------------------------------------------------------

// WriteSnapshot replaces the archive file for (market, date, slot) with
// records, sorted by symbol. Layout:
//
//	<DataDir>/<market>/<YYYY>/<date>_<slot>.parquet
func (s *ParquetStore) WriteSnapshot(_ context.Context, key SnapshotKey, records []SnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}
	out := dedupeSnapshotRecords(records)
	if err := writeParquetFile(s.snapshotPath(key), out); err != nil {
		return fmt.Errorf("writing snapshot %s/%s/%s: %w", key.Market, key.Date, key.Slot, err)
	}
	return nil
}

// ReadSnapshot reads one archived snapshot, or ErrNoData when absent.
func (s *ParquetStore) ReadSnapshot(_ context.Context, key SnapshotKey) ([]SnapshotRecord, error) {
	path := s.snapshotPath(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNoData
	}
	return readParquetFile[SnapshotRecord](path)
}

// ListSnapshots lists the archived snapshots of market, newest first.
func (s *ParquetStore) ListSnapshots(_ context.Context, market string) ([]SnapshotKey, error) {
	root := filepath.Join(s.DataDir, market)
	years, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []SnapshotKey
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, y.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			name, ok := strings.CutSuffix(f.Name(), ".parquet")
			if !ok {
				continue
			}
			date, slot, ok := strings.Cut(name, "_")
			if !ok {
				continue
			}
			keys = append(keys, SnapshotKey{Market: market, Date: date, Slot: slot})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date > keys[j].Date
		}
		return keys[i].Slot < keys[j].Slot
	})
	return keys, nil
}

// snapshotPath returns the filesystem path for a snapshot Parquet file.
func (s *ParquetStore) snapshotPath(key SnapshotKey) string {
	year := "0000"
	if len(key.Date) >= 4 {
		year = key.Date[:4]
	}
	return filepath.Join(s.DataDir, key.Market, year, key.Date+"_"+key.Slot+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// dedupeSnapshotRecords keeps the last record per symbol and sorts by
// symbol.
func dedupeSnapshotRecords(records []SnapshotRecord) []SnapshotRecord {
	seen := make(map[string]SnapshotRecord, len(records))
	for _, r := range records {
		seen[r.Symbol] = r
	}
	out := make([]SnapshotRecord, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
