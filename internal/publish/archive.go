package publish

import (
	"context"

	"limitboard/internal/store"
)

// ArchiveSink keeps the full snapshot rows of every payload in the parquet
// archive.
type ArchiveSink struct {
	store *store.ParquetStore
}

// NewArchiveSink creates an ArchiveSink over ps.
func NewArchiveSink(ps *store.ParquetStore) *ArchiveSink { return &ArchiveSink{store: ps} }

func (a *ArchiveSink) Name() string { return "archive" }

// Publish writes the payload's snapshot; empty snapshots are skipped.
func (a *ArchiveSink) Publish(ctx context.Context, p *Payload) error {
	snap := p.Source()
	if snap == nil || snap.Empty || len(snap.Rows) == 0 {
		return nil
	}
	return a.store.WriteSnapshot(ctx, snap.Key(), snap.Records())
}
