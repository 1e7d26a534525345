package coord

import (
	"context"
	"time"
)

// CursorKey addresses one fanout watermark. The three levels model a
// partitioned sweep: Topic is the logical stream, WorkKey the logical work
// type, ShardKey the physical shard. Independent shard workers never contend
// on the same row.
type CursorKey struct {
	Topic    string
	WorkKey  string
	ShardKey string
}

// Validate checks all three key parts before any store call.
func (k CursorKey) Validate() error {
	if err := ValidateKey(k.Topic); err != nil {
		return err
	}
	if err := ValidateKey(k.WorkKey); err != nil {
		return err
	}

	return ValidateKey(k.ShardKey)
}

// CursorStore records per-shard completion watermarks so partitioned sweeps
// resume from (lastCompleted, now] without reprocessing.
type CursorStore interface {
	// LastCompleted returns the watermark and whether the cursor exists.
	LastCompleted(ctx context.Context, key CursorKey) (time.Time, bool, error)
	// MarkCompleted advances the watermark to max(existing, completedAt).
	// A write with an earlier timestamp is accepted but has no effect, so
	// out-of-order completion reports from concurrent workers converge to the
	// maximum and the watermark never regresses.
	MarkCompleted(ctx context.Context, key CursorKey, completedAt time.Time) error
}
