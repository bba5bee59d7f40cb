// Package publish assembles the per-market payload document and delivers
// it to the configured sinks.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limitboard/internal/aggregate"
	"limitboard/internal/snapshot"
	"limitboard/internal/util"
)

// Payload is the document consumed by renderers and the read API.
type Payload struct {
	Market         string                       `json:"market"`
	Ymd            string                       `json:"ymd"`
	YmdEffective   string                       `json:"ymd_effective"`
	Slot           string                       `json:"slot"`
	GeneratedAt    string                       `json:"generated_at"`
	Snapshot       []snapshot.Row               `json:"snapshot"`
	LimitList      []aggregate.Entry            `json:"limit_list"`
	SectorSummary  []aggregate.SectorRow        `json:"sector_summary"`
	SectorUniverse []aggregate.SectorTotal      `json:"sector_universe"`
	Watchlist      []aggregate.Entry            `json:"watchlist"`
	PeersBySector  map[string][]aggregate.Entry `json:"peers_by_sector"`
	PeersFlat      []aggregate.Entry            `json:"peers_not_limitup"`
	Stats          aggregate.Stats              `json:"stats"`
	Filters        aggregate.Options            `json:"filters"`
	Meta           Meta                         `json:"meta"`

	source *snapshot.Snapshot
}

// Meta carries the time block and diagnostics.
type Meta struct {
	Time       util.TimeMeta `json:"time"`
	Note       string        `json:"note,omitempty"`
	MarketOpen bool          `json:"market_open"`
	Empty      bool          `json:"empty,omitempty"`
}

// NewPayload joins a snapshot with its aggregation. generated_at reuses
// the snapshot's single UTC instant.
func NewPayload(snap *snapshot.Snapshot, res *aggregate.Result) *Payload {
	rows := snap.Rows
	if rows == nil {
		rows = []snapshot.Row{}
	}
	return &Payload{
		Market:         snap.Market,
		Ymd:            snap.Requested,
		YmdEffective:   snap.Effective,
		Slot:           snap.Slot,
		GeneratedAt:    snap.GeneratedAt.UTC().Format(time.RFC3339),
		Snapshot:       rows,
		LimitList:      res.LimitList,
		SectorSummary:  res.SectorSummary,
		SectorUniverse: res.SectorUniverse,
		Watchlist:      res.Watchlist,
		PeersBySector:  res.Peers,
		PeersFlat:      res.PeersFlat,
		Stats:          res.Stats,
		Filters:        res.Filters,
		Meta: Meta{
			Time:       snap.Time,
			Note:       snap.Note,
			MarketOpen: snap.MarketOpen,
			Empty:      snap.Empty,
		},
		source: snap,
	}
}

// Source returns the snapshot the payload was built from, or nil for a
// payload read back from storage.
func (p *Payload) Source() *snapshot.Snapshot { return p.source }

// Sink delivers payloads somewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, p *Payload) error
}

// Publisher fans a payload out to every sink. One failing sink does not
// stop the others.
type Publisher struct {
	sinks []Sink
	log   *slog.Logger
}

// NewPublisher creates a Publisher over sinks.
func NewPublisher(log *slog.Logger, sinks ...Sink) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{sinks: sinks, log: log.With("component", "publish")}
}

// Publish sends p to every sink and joins their errors.
func (pb *Publisher) Publish(ctx context.Context, p *Payload) error {
	var errs []error
	for _, s := range pb.sinks {
		start := time.Now()
		if err := s.Publish(ctx, p); err != nil {
			pb.log.Error("publish failed", "sink", s.Name(), "market", p.Market, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		pb.log.Info("payload published",
			"sink", s.Name(),
			"market", p.Market,
			"ymd", p.YmdEffective,
			"slot", p.Slot,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return errors.Join(errs...)
}
