package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/coord"
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements coord.Store backed by PostgreSQL.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
}

var _ coord.Store = (*Store)(nil)
var _ coord.Pruner = (*Store)(nil)

// NewStore constructs a PostgreSQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	t, err := resolveTables(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(t),
	}, nil
}

// MustNewStore constructs a PostgreSQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// TryBegin implements coord.IdempotencyStore.
func (s *Store) TryBegin(ctx context.Context, key, owner string, ttl time.Duration) (coord.BeginResult, error) {
	if err := validateClaimArgs(key, owner, ttl); err != nil {
		return 0, err
	}

	now := s.cfg.Clock.Now()
	applied, err := s.exec(ctx, s.queries.idemTryBegin, key, now.Add(ttl), owner, now)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: try begin failed: %w", err)
	}
	if applied {
		return coord.Began, nil
	}

	// Lost the conditional write; the row exists, read why.
	var status coord.IdempotencyStatus
	if err := s.db.QueryRowContext(ctx, s.queries.idemStatus, key).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coord.AlreadyLocked, nil
		}

		return 0, fmt.Errorf("coord postgres: try begin classify failed: %w", err)
	}
	if status == coord.IdempotencyCompleted {
		return coord.AlreadyCompleted, nil
	}

	return coord.AlreadyLocked, nil
}

// Complete implements coord.IdempotencyStore.
func (s *Store) Complete(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}

	applied, err := s.exec(ctx, s.queries.idemComplete, key, owner, s.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("coord postgres: complete failed: %w", err)
	}
	if !applied {
		return coord.ErrStaleOwner
	}

	return nil
}

// Fail implements coord.IdempotencyStore.
func (s *Store) Fail(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}

	applied, err := s.exec(ctx, s.queries.idemFail, key, owner, s.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("coord postgres: fail failed: %w", err)
	}
	if !applied {
		return coord.ErrStaleOwner
	}

	return nil
}

// GetIdempotency implements coord.IdempotencyStore.
func (s *Store) GetIdempotency(ctx context.Context, key string) (*coord.IdempotencyRecord, error) {
	if err := coord.ValidateKey(key); err != nil {
		return nil, err
	}

	var (
		rec         coord.IdempotencyRecord
		lockedUntil sql.NullTime
		lockedBy    sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.queries.idemGet, key).Scan(
		&rec.Key,
		&rec.Status,
		&lockedUntil,
		&lockedBy,
		&rec.FailureCount,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coord.ErrNotFound
		}

		return nil, fmt.Errorf("coord postgres: get idempotency failed: %w", err)
	}
	rec.LockedUntil = nullableTime(lockedUntil)
	rec.LockedBy = lockedBy.String
	rec.CompletedAt = nullableTime(completedAt)

	return &rec, nil
}

// Acquire implements coord.LeaseStore.
func (s *Store) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (coord.AcquireResult, error) {
	if err := validateClaimArgs(name, owner, ttl); err != nil {
		return 0, err
	}

	now := s.cfg.Clock.Now()
	applied, err := s.exec(ctx, s.queries.leaseAcquire, name, owner, now.Add(ttl), now)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: acquire failed: %w", err)
	}
	if !applied {
		return coord.Denied, nil
	}

	return coord.Granted, nil
}

// Renew implements coord.LeaseStore.
func (s *Store) Renew(ctx context.Context, name, owner string, ttl time.Duration) (coord.AcquireResult, error) {
	if err := validateClaimArgs(name, owner, ttl); err != nil {
		return 0, err
	}

	now := s.cfg.Clock.Now()
	applied, err := s.exec(ctx, s.queries.leaseRenew, name, owner, now.Add(ttl), now)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: renew failed: %w", err)
	}
	if !applied {
		return coord.Denied, nil
	}

	return coord.Granted, nil
}

// Release implements coord.LeaseStore.
func (s *Store) Release(ctx context.Context, name, owner string) error {
	if err := validateKeyOwner(name, owner); err != nil {
		return err
	}

	// A mismatched owner is a no-op, not an error.
	if _, err := s.exec(ctx, s.queries.leaseRelease, name, owner); err != nil {
		return fmt.Errorf("coord postgres: release failed: %w", err)
	}

	return nil
}

// GetLease implements coord.LeaseStore.
func (s *Store) GetLease(ctx context.Context, name string) (*coord.Lease, error) {
	if err := coord.ValidateKey(name); err != nil {
		return nil, err
	}

	var (
		lease      coord.Lease
		owner      sql.NullString
		leaseUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.queries.leaseGet, name).Scan(&lease.Name, &owner, &leaseUntil, &lease.LastGranted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coord.ErrNotFound
		}

		return nil, fmt.Errorf("coord postgres: get lease failed: %w", err)
	}
	lease.Owner = owner.String
	lease.LeaseUntil = nullableTime(leaseUntil)

	return &lease, nil
}

// exec runs a conditional statement and reports whether it applied.
func (s *Store) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time

	return &out
}

func validateClaimArgs(key, owner string, ttl time.Duration) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}

	return coord.ValidateTTL(ttl)
}

func validateKeyOwner(key, owner string) error {
	if err := coord.ValidateKey(key); err != nil {
		return err
	}

	return coord.ValidateOwner(owner)
}
