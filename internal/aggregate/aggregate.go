// Package aggregate classifies snapshot rows into the limit list and
// watchlist and summarises them by sector.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"limitboard/internal/domain"
	"limitboard/internal/snapshot"
)

// Row statuses.
const (
	StatusLocked    = "locked"
	StatusTouchOnly = "touch_only"
	StatusTheme     = "theme"
	StatusWatch     = "watch"
	StatusPeer      = "peer"
)

// DefaultPeersCap bounds each sector's peer list when Options.PeersCap is
// unset.
const DefaultPeersCap = 50

// Override metrics.
const (
	MetricLocked  = "locked"
	MetricTouch   = "touch"
	MetricBigMove = "bigmove"
)

// Override is a named per-market count that leaves out one tag from one
// metric. The lists themselves are never filtered.
type Override struct {
	Name       string `json:"name"`
	Metric     string `json:"metric"`
	ExcludeTag string `json:"exclude_tag"`
}

// Options configures one market's aggregation.
type Options struct {
	NoLimit        bool       `json:"no_limit"`
	Threshold      float64    `json:"ret_th"`
	TouchThreshold float64    `json:"touch_th"`
	ThemeThreshold float64    `json:"theme_th,omitempty"`
	Overrides      []Override `json:"overrides,omitempty"`
	PeersCap       int        `json:"peers_cap,omitempty"`
}

// Entry is a snapshot row placed on the limit list or the watchlist.
type Entry struct {
	snapshot.Row
	Status     string `json:"limitup_status"`
	StatusText string `json:"status_text"`
	MoveWord   string `json:"move_word,omitempty"`
	MoveBand   string `json:"move_band,omitempty"`
}

// SectorRow is one sector with activity.
type SectorRow struct {
	Sector     string         `json:"sector"`
	LockedCnt  int            `json:"locked_cnt"`
	TouchCnt   int            `json:"touch_cnt"`
	BigMoveCnt int            `json:"bigmove_cnt"`
	MixCnt     int            `json:"mix_cnt"`
	TotalCnt   int            `json:"total_cnt"`
	LockedPct  float64        `json:"locked_pct"`
	TouchPct   float64        `json:"touch_pct"`
	BigMovePct float64        `json:"bigmove_pct"`
	Overrides  map[string]int `json:"overrides,omitempty"`
}

// SectorTotal is one sector's size in the full universe.
type SectorTotal struct {
	Sector   string `json:"sector"`
	TotalCnt int    `json:"total_cnt"`
}

// Stats are whole-market counts.
type Stats struct {
	SnapshotCount int            `json:"snapshot_count"`
	WithBarCount  int            `json:"with_bar_count"`
	LockedCnt     int            `json:"locked_cnt"`
	TouchCnt      int            `json:"touch_cnt"`
	ThemeCnt      int            `json:"theme_cnt"`
	WatchCnt      int            `json:"watch_cnt"`
	LimitListCnt  int            `json:"limit_list_cnt"`
	SectorCnt     int            `json:"sector_cnt"`
	PeersSectors  int            `json:"peers_sectors"`
	PeersFlatCnt  int            `json:"peers_flat_count"`
	Overrides     map[string]int `json:"overrides,omitempty"`
}

// Result is one market's aggregation.
type Result struct {
	Market         string        `json:"market"`
	LimitList      []Entry       `json:"limit_list"`
	Watchlist      []Entry       `json:"watchlist"`
	SectorSummary  []SectorRow   `json:"sector_summary"`
	SectorUniverse []SectorTotal `json:"sector_universe"`

	// Peers lists, per active sector, the names that neither made a list
	// nor touched the limit, best return first.
	Peers     map[string][]Entry `json:"peers_by_sector"`
	PeersFlat []Entry            `json:"peers_not_limitup"`
	Stats     Stats              `json:"stats"`
	Filters   Options            `json:"filters"`
}

// Aggregate classifies snap's rows. It does not modify snap.
func Aggregate(snap *snapshot.Snapshot, opts Options) *Result {
	res := &Result{
		Market:    snap.Market,
		LimitList: []Entry{},
		Watchlist: []Entry{},
		Filters:   opts,
	}

	totals := make(map[string]int)
	for _, r := range snap.Rows {
		totals[sectorOf(r)]++
		res.Stats.SnapshotCount++
		if r.HasBar {
			res.Stats.WithBarCount++
		}

		switch {
		case r.Locked:
			res.LimitList = append(res.LimitList, newEntry(r, StatusLocked, opts))
		case r.TouchedOnly:
			res.LimitList = append(res.LimitList, newEntry(r, StatusTouchOnly, opts))
		case r.Theme:
			res.LimitList = append(res.LimitList, newEntry(r, StatusTheme, opts))
		case r.Hit:
			res.Watchlist = append(res.Watchlist, newEntry(r, StatusWatch, opts))
		}
	}

	sortLimitList(res.LimitList)
	sortByReturn(res.Watchlist)

	res.SectorSummary = sectorSummary(res.LimitList, res.Watchlist, totals, opts.Overrides)
	res.SectorUniverse = sectorUniverse(totals)
	res.Peers, res.PeersFlat = peers(snap.Rows, res.LimitList, res.Watchlist, opts)
	res.Stats.PeersSectors = len(res.Peers)
	res.Stats.PeersFlatCnt = len(res.PeersFlat)
	res.Stats.LimitListCnt = len(res.LimitList)
	res.Stats.WatchCnt = len(res.Watchlist)
	res.Stats.SectorCnt = len(res.SectorSummary)
	for _, e := range res.LimitList {
		switch e.Status {
		case StatusLocked:
			res.Stats.LockedCnt++
		case StatusTouchOnly:
			res.Stats.TouchCnt++
		case StatusTheme:
			res.Stats.ThemeCnt++
		}
	}
	if len(opts.Overrides) > 0 {
		res.Stats.Overrides = make(map[string]int, len(opts.Overrides))
		for _, o := range opts.Overrides {
			res.Stats.Overrides[o.Name] = countOverride(o, res.LimitList, res.Watchlist)
		}
	}
	return res
}

// AggregateAll aggregates several markets concurrently. opts is keyed by
// market code; a missing entry aggregates with zero Options.
func AggregateAll(ctx context.Context, snaps []*snapshot.Snapshot, opts map[string]Options) (map[string]*Result, error) {
	results := make([]*Result, len(snaps))
	g, gctx := errgroup.WithContext(ctx)
	for i, snap := range snaps {
		if snap == nil {
			continue
		}
		i, snap := i, snap
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = Aggregate(snap, opts[snap.Market])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregating markets: %w", err)
	}

	out := make(map[string]*Result, len(results))
	for _, r := range results {
		if r != nil {
			out[r.Market] = r
		}
	}
	return out, nil
}

func newEntry(r snapshot.Row, status string, opts Options) Entry {
	e := Entry{Row: r, Status: status}
	if (opts.NoLimit || r.Hit) && r.Ret > 0 {
		e.MoveWord = MoveWord(r.Ret)
		e.MoveBand = MoveBand(r.Ret)
	}
	e.StatusText = statusText(e)
	return e
}

// sortLimitList orders by locked, touched-only, streak and return, all
// descending, then symbol.
func sortLimitList(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if a.Locked != b.Locked {
			return a.Locked
		}
		if a.TouchedOnly != b.TouchedOnly {
			return a.TouchedOnly
		}
		if a.Streak != b.Streak {
			return a.Streak > b.Streak
		}
		if a.Ret != b.Ret {
			return a.Ret > b.Ret
		}
		return a.Symbol < b.Symbol
	})
}

func sectorSummary(limit, watch []Entry, totals map[string]int, overrides []Override) []SectorRow {
	rows := make(map[string]*SectorRow)
	get := func(sector string) *SectorRow {
		sr, ok := rows[sector]
		if !ok {
			sr = &SectorRow{Sector: sector, TotalCnt: totals[sector]}
			rows[sector] = sr
		}
		return sr
	}

	bySector := make(map[string][]Entry)
	for _, e := range limit {
		s := sectorOf(e.Row)
		sr := get(s)
		switch e.Status {
		case StatusLocked:
			sr.LockedCnt++
		case StatusTouchOnly:
			sr.TouchCnt++
		case StatusTheme:
			sr.BigMoveCnt++
		}
		bySector[s] = append(bySector[s], e)
	}
	watchBySector := make(map[string][]Entry)
	for _, e := range watch {
		s := sectorOf(e.Row)
		get(s).BigMoveCnt++
		watchBySector[s] = append(watchBySector[s], e)
	}

	out := make([]SectorRow, 0, len(rows))
	for s, sr := range rows {
		// Sectors with only touched names have no activity; they stay in
		// the universe table.
		if sr.LockedCnt == 0 && sr.BigMoveCnt == 0 {
			continue
		}
		sr.MixCnt = sr.LockedCnt + sr.TouchCnt + sr.BigMoveCnt
		sr.LockedPct = share(sr.LockedCnt, sr.TotalCnt)
		sr.TouchPct = share(sr.TouchCnt, sr.TotalCnt)
		sr.BigMovePct = share(sr.BigMoveCnt, sr.TotalCnt)
		if len(overrides) > 0 {
			sr.Overrides = make(map[string]int, len(overrides))
			for _, o := range overrides {
				sr.Overrides[o.Name] = countOverride(o, bySector[s], watchBySector[s])
			}
		}
		out = append(out, *sr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LockedCnt != b.LockedCnt {
			return a.LockedCnt > b.LockedCnt
		}
		if a.TouchCnt != b.TouchCnt {
			return a.TouchCnt > b.TouchCnt
		}
		if a.BigMoveCnt != b.BigMoveCnt {
			return a.BigMoveCnt > b.BigMoveCnt
		}
		if a.TotalCnt != b.TotalCnt {
			return a.TotalCnt > b.TotalCnt
		}
		return a.Sector < b.Sector
	})
	return out
}

// peers collects same-sector names for every sector on the limit list or
// watchlist. Listed symbols and anything that reached the limit are left
// out.
func peers(rows []snapshot.Row, limit, watch []Entry, opts Options) (map[string][]Entry, []Entry) {
	limitCap := opts.PeersCap
	if limitCap <= 0 {
		limitCap = DefaultPeersCap
	}
	listed := make(map[string]bool, len(limit)+len(watch))
	active := make(map[string]bool)
	for _, es := range [][]Entry{limit, watch} {
		for _, e := range es {
			listed[e.Symbol] = true
			active[sectorOf(e.Row)] = true
		}
	}

	bySector := make(map[string][]Entry)
	for _, r := range rows {
		if !r.HasBar || r.Locked || r.TouchedOnly || listed[r.Symbol] {
			continue
		}
		s := sectorOf(r)
		if active[s] {
			bySector[s] = append(bySector[s], newEntry(r, StatusPeer, opts))
		}
	}

	flat := []Entry{}
	for s, es := range bySector {
		sortByReturn(es)
		if len(es) > limitCap {
			es = es[:limitCap]
		}
		bySector[s] = es
		flat = append(flat, es...)
	}
	sortByReturn(flat)
	return bySector, flat
}

func sortByReturn(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Ret != es[j].Ret {
			return es[i].Ret > es[j].Ret
		}
		return es[i].Symbol < es[j].Symbol
	})
}

func sectorUniverse(totals map[string]int) []SectorTotal {
	out := make([]SectorTotal, 0, len(totals))
	for s, n := range totals {
		out = append(out, SectorTotal{Sector: s, TotalCnt: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCnt != out[j].TotalCnt {
			return out[i].TotalCnt > out[j].TotalCnt
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

func countOverride(o Override, limit, watch []Entry) int {
	n := 0
	count := func(es []Entry, status ...string) {
		for _, e := range es {
			if o.ExcludeTag != "" && e.Tag == o.ExcludeTag {
				continue
			}
			for _, s := range status {
				if e.Status == s {
					n++
					break
				}
			}
		}
	}
	switch o.Metric {
	case MetricLocked:
		count(limit, StatusLocked)
	case MetricTouch:
		count(limit, StatusTouchOnly)
	case MetricBigMove:
		count(limit, StatusTheme)
		count(watch, StatusWatch)
	}
	return n
}

func sectorOf(r snapshot.Row) string {
	return domain.Instrument{Sector: r.Sector}.SectorOrUnknown()
}

func share(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}
