package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/coord"
)

// Enqueue implements coord.OutboxStore.
func (s *Store) Enqueue(ctx context.Context, env coord.Envelope) (coord.EnqueueResult, coord.ID, error) {
	return s.enqueue(ctx, s.db, env)
}

// EnqueueTx enqueues within the caller's transaction so the message commits
// or rolls back together with the business change it announces.
func (s *Store) EnqueueTx(ctx context.Context, exec Executor, env coord.Envelope) (coord.EnqueueResult, coord.ID, error) {
	if exec == nil {
		return 0, coord.ID{}, ErrExecutorRequired
	}

	return s.enqueue(ctx, exec, env)
}

func (s *Store) enqueue(ctx context.Context, exec Executor, env coord.Envelope) (coord.EnqueueResult, coord.ID, error) {
	if err := env.Validate(); err != nil {
		return 0, coord.ID{}, err
	}

	id := env.ID
	if id.IsZero() {
		var err error
		id, err = s.cfg.Generator.New()
		if err != nil {
			return 0, coord.ID{}, fmt.Errorf("coord postgres: generate id failed: %w", err)
		}
	}

	var due any
	if env.DueTime != nil {
		due = env.DueTime.UTC()
	}

	res, err := exec.ExecContext(ctx, s.queries.outboxEnqueue, id, env.Provider, env.MessageKey, []byte(env.Payload), s.cfg.Clock.Now(), due)
	if err != nil {
		return 0, coord.ID{}, fmt.Errorf("coord postgres: enqueue failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, coord.ID{}, fmt.Errorf("coord postgres: enqueue failed: %w", err)
	}
	if affected == 0 {
		return coord.AlreadyEnqueued, coord.ID{}, nil
	}

	return coord.Accepted, id, nil
}

// LeaseDue implements coord.OutboxStore.
func (s *Store) LeaseDue(ctx context.Context, provider string, batchSize int) ([]coord.Message, error) {
	if err := coord.ValidateKey(provider); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, coord.ErrInvalidBatchSize
	}

	rows, err := s.db.QueryContext(ctx, s.queries.outboxLeaseDue, provider, s.cfg.Clock.Now(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("coord postgres: lease due failed: %w", err)
	}
	defer rows.Close()

	msgs := make([]coord.Message, 0, batchSize)
	for rows.Next() {
		var (
			msg     coord.Message
			payload []byte
			due     sql.NullTime
			reason  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Provider, &msg.MessageKey, &payload, &msg.EnqueuedAt, &due, &msg.AttemptCount, &msg.Status, &reason); err != nil {
			return nil, fmt.Errorf("coord postgres: scan message failed: %w", err)
		}
		msg.Payload = payload
		msg.DueTime = nullableTime(due)
		msg.FailureReason = reason.String
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coord postgres: rows failed: %w", err)
	}

	return msgs, nil
}

// MarkSent implements coord.OutboxStore.
func (s *Store) MarkSent(ctx context.Context, id coord.ID) error {
	// Idempotent: zero affected rows means the message is already terminal.
	if _, err := s.exec(ctx, s.queries.outboxMarkSent, id); err != nil {
		return fmt.Errorf("coord postgres: mark sent failed: %w", err)
	}

	return nil
}

// MarkFailed implements coord.OutboxStore.
func (s *Store) MarkFailed(ctx context.Context, id coord.ID, reason string, maxAttempts int, nextDue time.Time) error {
	if maxAttempts <= 0 {
		return coord.ErrMaxAttemptsInvalid
	}

	if _, err := s.exec(ctx, s.queries.outboxMarkFailed, id, coord.TruncateReason(reason), maxAttempts, nextDue.UTC()); err != nil {
		return fmt.Errorf("coord postgres: mark failed update failed: %w", err)
	}

	return nil
}

// PruneOutbox implements coord.Pruner.
func (s *Store) PruneOutbox(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, coord.ErrInvalidBatchSize
	}

	res, err := s.db.ExecContext(ctx, s.queries.outboxPrune, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("coord postgres: prune outbox failed: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("coord postgres: prune outbox failed: %w", err)
	}

	return removed, nil
}
