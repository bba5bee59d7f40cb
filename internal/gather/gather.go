// Package gather keeps each market's rolling window of daily bars fresh:
// it resolves the window, downloads it in batches with single-symbol
// fallback and maintains the permanent skiplist.
package gather

import (
	"context"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is done or ctx
	// is cancelled.
	Run(ctx context.Context) error
}
