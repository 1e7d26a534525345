package coord

import (
	"context"
	"encoding/json"
	"time"
)

// WorkStatus represents the lifecycle state of an inbox work item.
type WorkStatus int16

const (
	// WorkNew indicates the item awaits its first claim.
	WorkNew WorkStatus = 0
	// WorkInProgress indicates a consumer holds the item. The claim is live
	// only while ClaimedUntil is in the future.
	WorkInProgress WorkStatus = 1
	// WorkDone indicates the item was consumed. Terminal.
	WorkDone WorkStatus = 2
	// WorkDead indicates the item exhausted its retry budget and needs
	// manual intervention. Terminal.
	WorkDead WorkStatus = -1
)

// ReceiveResult classifies the outcome of Receive.
type ReceiveResult int

const (
	// Received means a new work item row was created.
	Received ReceiveResult = iota
	// Duplicate means the key was seen before; prior state is untouched and
	// the original payload is the one on record.
	Duplicate
)

// ClaimResult classifies the outcome of Claim.
type ClaimResult int

const (
	// Claimed means the caller holds the item exclusively until the claim ttl.
	Claimed ClaimResult = iota
	// AlreadyClaimed means another consumer holds an unexpired claim.
	AlreadyClaimed
	// AlreadyDone means the item was already consumed.
	AlreadyDone
	// AlreadyDead means the item is dead-lettered.
	AlreadyDead
)

// WorkItem is a stored unit of incoming work.
type WorkItem struct {
	Key          string
	Payload      json.RawMessage
	ReceivedAt   time.Time
	Status       WorkStatus
	AttemptCount int
	ClaimedBy    string
	ClaimedUntil *time.Time
	UpdatedAt    time.Time
}

// InboxStore durably records incoming units of work, deduplicated by a
// caller-supplied key, and tracks per-item consumption with the same
// conditional-claim protocol as the idempotency guard.
type InboxStore interface {
	// Receive inserts the item unless the key was seen before. Duplicate
	// tells the caller an at-least-once redelivery arrived.
	Receive(ctx context.Context, key string, payload json.RawMessage) (ReceiveResult, error)
	// Claim takes the item exclusively for owner until now+ttl. Expired
	// claims are reclaimable. Returns ErrNotFound for unknown keys.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (ClaimResult, error)
	// CompleteWork transitions InProgress to Done, matching owner only.
	// Returns ErrStaleOwner otherwise.
	CompleteWork(ctx context.Context, key, owner string) error
	// FailWork increments the attempt count; if the incremented count reaches
	// maxAttempts the item becomes Dead, otherwise the claim is released so
	// the item is retried. Returns ErrStaleOwner on owner mismatch.
	FailWork(ctx context.Context, key, owner string, maxAttempts int) error
	// GetWorkItem reads the item, ErrNotFound when absent.
	GetWorkItem(ctx context.Context, key string) (*WorkItem, error)
}
