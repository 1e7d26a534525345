package coord

import (
	"context"
	"time"
)

// IdempotencyStatus represents the lifecycle state of an idempotency record.
type IdempotencyStatus int16

const (
	// IdempotencyLocked indicates an owner currently holds the key. The lock
	// is live only while LockedUntil is in the future; an expired lock is
	// claimable by the next caller.
	IdempotencyLocked IdempotencyStatus = 0
	// IdempotencyCompleted indicates the side effect executed. Terminal.
	IdempotencyCompleted IdempotencyStatus = 1
	// IdempotencyFailed indicates the last attempt failed and the key is
	// claimable again.
	IdempotencyFailed IdempotencyStatus = -1
)

// BeginResult classifies the outcome of TryBegin.
type BeginResult int

const (
	// Began means the caller won the claim and must run the side effect.
	Began BeginResult = iota
	// AlreadyLocked means another owner holds an unexpired lock.
	AlreadyLocked
	// AlreadyCompleted means the side effect already executed. Permanent.
	AlreadyCompleted
)

// String returns a short name for logging.
func (r BeginResult) String() string {
	switch r {
	case Began:
		return "began"
	case AlreadyLocked:
		return "already_locked"
	case AlreadyCompleted:
		return "already_completed"
	default:
		return "unknown"
	}
}

// IdempotencyRecord is the stored state of one idempotency key.
type IdempotencyRecord struct {
	Key          string
	Status       IdempotencyStatus
	LockedUntil  *time.Time
	LockedBy     string
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// IdempotencyStore guards side effects so that a unit of work identified by
// a key executes at most once, even under concurrent or retried invocations
// from independent processes.
type IdempotencyStore interface {
	// TryBegin claims the key for owner until now+ttl. Exactly one concurrent
	// caller observes Began; the rest observe AlreadyLocked, or
	// AlreadyCompleted once the side effect has been committed. Expired locks
	// and failed attempts are claimable.
	TryBegin(ctx context.Context, key, owner string, ttl time.Duration) (BeginResult, error)
	// Complete transitions Locked to Completed. Returns ErrStaleOwner when
	// owner no longer holds the lock (expired and reclaimed); the caller must
	// treat its side effect as lost rather than committed.
	Complete(ctx context.Context, key, owner string) error
	// Fail releases the lock, increments the failure count, and leaves the
	// key claimable for a retry. Returns ErrStaleOwner on owner mismatch.
	Fail(ctx context.Context, key, owner string) error
	// GetIdempotency reads the record, ErrNotFound when absent.
	GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
}
