package coord

import (
	"context"
	"time"
)

// AcquireResult classifies the outcome of a lease operation.
type AcquireResult int

const (
	// Granted means the caller holds the lease until now+ttl.
	Granted AcquireResult = iota
	// Denied means another owner holds an unexpired lease.
	Denied
)

// String returns a short name for logging.
func (r AcquireResult) String() string {
	switch r {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Lease is the stored state of one named lease. A lease is held iff Owner is
// non-empty and LeaseUntil is in the future.
type Lease struct {
	Name        string
	Owner       string
	LeaseUntil  *time.Time
	LastGranted time.Time
}

// LeaseStore grants time-bounded exclusive ownership of named resources,
// used for single-owner periodic and background work. Ownership expires on
// its own; there is no heartbeat channel. Callers renew before expiry,
// typically at half the lease duration, and the ttl must exceed clock drift
// between instances plus the store round trip.
type LeaseStore interface {
	// Acquire grants the lease when it is free, expired, or already held by
	// the same owner (idempotent re-acquire extends the lease).
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (AcquireResult, error)
	// Renew extends the lease only while owner still holds it unexpired.
	Renew(ctx context.Context, name, owner string, ttl time.Duration) (AcquireResult, error)
	// Release frees the lease when owner matches; otherwise it is a no-op.
	Release(ctx context.Context, name, owner string) error
	// GetLease reads the lease row, ErrNotFound when absent.
	GetLease(ctx context.Context, name string) (*Lease, error)
}
