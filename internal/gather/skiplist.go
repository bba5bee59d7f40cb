package gather

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SkipEntry is one permanently skipped symbol.
type SkipEntry struct {
	Symbol string
	Reason string
}

// Skiplist is the append-only file of symbols that will never download.
// Lines are "SYMBOL<TAB>reason"; blank lines and lines starting with '#'
// are ignored. The file is re-read before every check and append so that
// edits made while a run is in progress are honoured.
type Skiplist struct {
	mu   sync.Mutex
	path string
}

// NewSkiplist returns a skiplist backed by path. The file is created on
// first append.
func NewSkiplist(path string) *Skiplist {
	return &Skiplist{path: path}
}

// Path returns the backing file path.
func (s *Skiplist) Path() string { return s.path }

// Load reads the file into a symbol -> reason map. A missing file is empty.
func (s *Skiplist) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Skiplist) load() (map[string]string, error) {
	out := make(map[string]string)
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("opening skiplist: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym, reason, _ := strings.Cut(line, "\t")
		sym = normSymbol(sym)
		if sym != "" {
			out[sym] = strings.TrimSpace(reason)
		}
	}
	return out, sc.Err()
}

// Filter splits symbols into those still eligible and those skipped.
func (s *Skiplist) Filter(symbols []string) (keep, skipped []string, err error) {
	set, err := s.Load()
	if err != nil {
		return nil, nil, err
	}
	for _, sym := range symbols {
		if _, ok := set[normSymbol(sym)]; ok {
			skipped = append(skipped, sym)
		} else {
			keep = append(keep, sym)
		}
	}
	return keep, skipped, nil
}

// Contains reports whether symbol is skipped.
func (s *Skiplist) Contains(symbol string) (bool, error) {
	set, err := s.Load()
	if err != nil {
		return false, err
	}
	_, ok := set[normSymbol(symbol)]
	return ok, nil
}

// Add appends symbol with reason unless it is already present. It reports
// whether a line was written.
func (s *Skiplist) Add(symbol, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := set[normSymbol(symbol)]; ok {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return false, fmt.Errorf("creating skiplist dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("opening skiplist: %w", err)
	}
	defer f.Close()

	// A hand-edited file may lack its final newline.
	sep, err := needsNewline(f)
	if err != nil {
		return false, fmt.Errorf("reading skiplist: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(sep + strings.TrimSpace(symbol) + "\t" + reason + "\n"); err != nil {
		return false, fmt.Errorf("writing skiplist: %w", err)
	}
	return true, w.Flush()
}

// Remove rewrites the file without symbol. Comments are preserved.
func (s *Skiplist) Remove(symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	var b strings.Builder
	removed := false
	for _, line := range strings.SplitAfter(string(data), "\n") {
		sym, _, _ := strings.Cut(strings.TrimSpace(line), "\t")
		if normSymbol(sym) == normSymbol(symbol) {
			removed = true
			continue
		}
		b.WriteString(line)
	}
	if !removed {
		return false, nil
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return false, err
	}
	return true, os.Rename(tmp, s.path)
}

// Entries returns all entries sorted by symbol.
func (s *Skiplist) Entries() ([]SkipEntry, error) {
	set, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]SkipEntry, 0, len(set))
	for sym, reason := range set {
		out = append(out, SkipEntry{Symbol: sym, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// normSymbol is the comparison form of a skiplist symbol.
func normSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// needsNewline returns "\n" when f is non-empty and does not end in one.
func needsNewline(f *os.File) (string, error) {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return "", err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return "", err
	}
	if last[0] == '\n' {
		return "", nil
	}
	return "\n", nil
}
