package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/coord"
)

// Receive implements coord.InboxStore.
func (s *Store) Receive(ctx context.Context, key string, payload json.RawMessage) (coord.ReceiveResult, error) {
	if err := coord.ValidateKey(key); err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, coord.ErrPayloadRequired
	}

	applied, err := s.exec(ctx, s.queries.inboxReceive, key, []byte(payload), s.cfg.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("coord postgres: receive failed: %w", err)
	}
	if !applied {
		return coord.Duplicate, nil
	}

	return coord.Received, nil
}

// Claim implements coord.InboxStore.
func (s *Store) Claim(ctx context.Context, key, owner string, ttl time.Duration) (coord.ClaimResult, error) {
	if err := validateClaimArgs(key, owner, ttl); err != nil {
		return 0, err
	}

	now := s.cfg.Clock.Now()
	applied, err := s.exec(ctx, s.queries.inboxClaim, key, owner, now.Add(ttl), now)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: claim failed: %w", err)
	}
	if applied {
		return coord.Claimed, nil
	}

	var status coord.WorkStatus
	if err := s.db.QueryRowContext(ctx, s.queries.inboxStatus, key).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, coord.ErrNotFound
		}

		return 0, fmt.Errorf("coord postgres: claim classify failed: %w", err)
	}
	switch status {
	case coord.WorkDone:
		return coord.AlreadyDone, nil
	case coord.WorkDead:
		return coord.AlreadyDead, nil
	default:
		return coord.AlreadyClaimed, nil
	}
}

// CompleteWork implements coord.InboxStore.
func (s *Store) CompleteWork(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}

	applied, err := s.exec(ctx, s.queries.inboxComplete, key, owner, s.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("coord postgres: complete work failed: %w", err)
	}
	if !applied {
		return coord.ErrStaleOwner
	}

	return nil
}

// FailWork implements coord.InboxStore.
func (s *Store) FailWork(ctx context.Context, key, owner string, maxAttempts int) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}
	if maxAttempts <= 0 {
		return coord.ErrMaxAttemptsInvalid
	}

	applied, err := s.exec(ctx, s.queries.inboxFail, key, owner, maxAttempts, s.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("coord postgres: fail work failed: %w", err)
	}
	if !applied {
		return coord.ErrStaleOwner
	}

	return nil
}

// GetWorkItem implements coord.InboxStore.
func (s *Store) GetWorkItem(ctx context.Context, key string) (*coord.WorkItem, error) {
	if err := coord.ValidateKey(key); err != nil {
		return nil, err
	}

	var (
		item         coord.WorkItem
		payload      []byte
		claimedBy    sql.NullString
		claimedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.queries.inboxGet, key).Scan(
		&item.Key,
		&payload,
		&item.ReceivedAt,
		&item.Status,
		&item.AttemptCount,
		&claimedBy,
		&claimedUntil,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coord.ErrNotFound
		}

		return nil, fmt.Errorf("coord postgres: get work item failed: %w", err)
	}
	item.Payload = payload
	item.ClaimedBy = claimedBy.String
	item.ClaimedUntil = nullableTime(claimedUntil)

	return &item, nil
}

// PruneInbox implements coord.Pruner.
func (s *Store) PruneInbox(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, coord.ErrInvalidBatchSize
	}

	res, err := s.db.ExecContext(ctx, s.queries.inboxPrune, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: prune inbox failed: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("coord postgres: prune inbox failed: %w", err)
	}

	return removed, nil
}

// LastCompleted implements coord.CursorStore.
func (s *Store) LastCompleted(ctx context.Context, key coord.CursorKey) (time.Time, bool, error) {
	if err := key.Validate(); err != nil {
		return time.Time{}, false, err
	}

	var last time.Time
	err := s.db.QueryRowContext(ctx, s.queries.cursorGet, key.Topic, key.WorkKey, key.ShardKey).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("coord postgres: last completed failed: %w", err)
	}

	return last, true, nil
}

// MarkCompleted implements coord.CursorStore.
func (s *Store) MarkCompleted(ctx context.Context, key coord.CursorKey, completedAt time.Time) error {
	if err := key.Validate(); err != nil {
		return err
	}

	// GREATEST makes concurrent reports commute; an earlier timestamp is a
	// no-op rather than a regression.
	if _, err := s.exec(ctx, s.queries.cursorMark, key.Topic, key.WorkKey, key.ShardKey, completedAt.UTC()); err != nil {
		return fmt.Errorf("coord postgres: mark completed failed: %w", err)
	}

	return nil
}
