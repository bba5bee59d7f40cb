package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"limitboard/internal/store"
)

// FileSink writes payloads as JSON under
//
//	<root>/<market>/<ymd>/<slot>.payload.json
type FileSink struct {
	root string
}

// NewFileSink creates a FileSink rooted at root.
func NewFileSink(root string) *FileSink { return &FileSink{root: root} }

func (f *FileSink) Name() string { return "file" }

// Path returns where a payload is stored.
func (f *FileSink) Path(market, ymd, slot string) string {
	return filepath.Join(f.root, market, ymd, slot+".payload.json")
}

// Publish writes p atomically.
func (f *FileSink) Publish(_ context.Context, p *Payload) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	path := f.Path(p.Market, p.YmdEffective, p.Slot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating payload dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads one stored payload, or store.ErrNoData when absent.
func (f *FileSink) Read(market, ymd, slot string) (*Payload, error) {
	data, err := os.ReadFile(f.Path(market, ymd, slot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNoData
	}
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// Dates lists the days that have at least one payload for market, newest
// first.
func (f *FileSink) Dates(market string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, market))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slots, _ := filepath.Glob(filepath.Join(f.root, market, e.Name(), "*.payload.json"))
		if len(slots) > 0 {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Slots lists the slots stored for market on ymd.
func (f *FileSink) Slots(market, ymd string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(f.root, market, ymd, "*.payload.json"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".payload.json"))
	}
	sort.Strings(out)
	return out, nil
}
