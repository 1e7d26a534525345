package coord

import (
	"context"
	"time"
)

// Store aggregates every primitive capability. The postgres, mysql, and
// memory adapters implement it in full; callers that need a single
// capability should depend on the narrower interface instead.
type Store interface {
	IdempotencyStore
	LeaseStore
	OutboxStore
	InboxStore
	CursorStore
}

// Pruner deletes terminal rows older than a cutoff, in bounded chunks.
// Retention is an operational concern layered on top of the primitives; the
// core never deletes rows on its own.
type Pruner interface {
	// PruneOutbox removes Sent and Failed messages enqueued before the cutoff,
	// at most limit rows, and reports how many were removed.
	PruneOutbox(ctx context.Context, before time.Time, limit int) (int64, error)
	// PruneInbox removes Done and Dead work items received before the cutoff,
	// at most limit rows, and reports how many were removed.
	PruneInbox(ctx context.Context, before time.Time, limit int) (int64, error)
}
