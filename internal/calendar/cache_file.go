package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var _ Cache = (*FileCache)(nil)

// FileCache stores one JSON document per key under Dir.
type FileCache struct {
	Dir string
}

// NewFileCache creates a FileCache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

// SafeTicker makes a ticker usable in a file name: "^GSPC" -> "GSPC".
func SafeTicker(t string) string {
	r := strings.NewReplacer("^", "", "=", "_", "/", "_", `\`, "_")
	s := strings.TrimSpace(r.Replace(t))
	if s == "" {
		return "ticker"
	}
	return s
}

// Locate returns <Dir>/<market>_<safeTicker>_<asof>.json.
func (c *FileCache) Locate(key Key) string {
	name := fmt.Sprintf("%s_%s_%s.json", key.Market, SafeTicker(key.Ticker), key.AsOf)
	return filepath.Join(c.Dir, name)
}

// Get loads the window for key. A missing file is a miss, not an error.
func (c *FileCache) Get(_ context.Context, key Key) (Window, bool, error) {
	data, err := os.ReadFile(c.Locate(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Window{}, false, nil
		}
		return Window{}, false, err
	}
	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, false, fmt.Errorf("decode %s: %w", c.Locate(key), err)
	}
	return w, true, nil
}

// Put writes the window atomically (temp file then rename).
func (c *FileCache) Put(_ context.Context, key Key, w Window) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	path := c.Locate(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
