package postgres

import (
	"fmt"

	"github.com/velmie/coord"
)

type tables struct {
	idempotency string
	lease       string
	outbox      string
	inbox       string
	cursor      string
}

func resolveTables(cfg Config) (tables, error) {
	var (
		t   tables
		err error
	)
	if t.idempotency, err = qualifyName(cfg.Schema, cfg.Tables.Idempotency); err != nil {
		return tables{}, err
	}
	if t.lease, err = qualifyName(cfg.Schema, cfg.Tables.Lease); err != nil {
		return tables{}, err
	}
	if t.outbox, err = qualifyName(cfg.Schema, cfg.Tables.Outbox); err != nil {
		return tables{}, err
	}
	if t.inbox, err = qualifyName(cfg.Schema, cfg.Tables.InboxWork); err != nil {
		return tables{}, err
	}
	if t.cursor, err = qualifyName(cfg.Schema, cfg.Tables.FanoutCursor); err != nil {
		return tables{}, err
	}

	return t, nil
}

type queries struct {
	idemTryBegin string
	idemComplete string
	idemFail     string
	idemGet      string
	idemStatus   string

	leaseAcquire string
	leaseRenew   string
	leaseRelease string
	leaseGet     string

	outboxEnqueue    string
	outboxLeaseDue   string
	outboxMarkSent   string
	outboxMarkFailed string
	outboxPrune      string

	inboxReceive  string
	inboxClaim    string
	inboxComplete string
	inboxFail     string
	inboxGet      string
	inboxStatus   string
	inboxPrune    string

	cursorGet  string
	cursorMark string
}

// Status values are baked into the statements at construction time so every
// operation stays a single round trip with positional arguments only for
// caller data.
func newQueries(t tables) queries {
	var q queries

	q.idemTryBegin = fmt.Sprintf(
		"INSERT INTO %s AS cur (idempotency_key, status, locked_until, locked_by, failure_count, created_at, updated_at) "+
			"VALUES ($1, %d, $2, $3, 0, $4, $4) "+
			"ON CONFLICT (idempotency_key) DO UPDATE "+
			"SET status = %d, locked_until = EXCLUDED.locked_until, locked_by = EXCLUDED.locked_by, updated_at = EXCLUDED.updated_at "+
			"WHERE cur.status <> %d AND (cur.status <> %d OR cur.locked_until <= EXCLUDED.updated_at)",
		t.idempotency,
		coord.IdempotencyLocked,
		coord.IdempotencyLocked,
		coord.IdempotencyCompleted,
		coord.IdempotencyLocked,
	)
	q.idemComplete = fmt.Sprintf(
		"UPDATE %s SET status = %d, completed_at = $3, updated_at = $3, locked_until = NULL, locked_by = NULL "+
			"WHERE idempotency_key = $1 AND status = %d AND locked_by = $2",
		t.idempotency,
		coord.IdempotencyCompleted,
		coord.IdempotencyLocked,
	)
	q.idemFail = fmt.Sprintf(
		"UPDATE %s SET status = %d, failure_count = failure_count + 1, locked_until = NULL, locked_by = NULL, updated_at = $3 "+
			"WHERE idempotency_key = $1 AND status = %d AND locked_by = $2",
		t.idempotency,
		coord.IdempotencyFailed,
		coord.IdempotencyLocked,
	)
	q.idemGet = fmt.Sprintf(
		"SELECT idempotency_key, status, locked_until, locked_by, failure_count, created_at, updated_at, completed_at "+
			"FROM %s WHERE idempotency_key = $1",
		t.idempotency,
	)
	q.idemStatus = fmt.Sprintf("SELECT status FROM %s WHERE idempotency_key = $1", t.idempotency)

	q.leaseAcquire = fmt.Sprintf(
		"INSERT INTO %s AS cur (name, owner, lease_until, last_granted) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (name) DO UPDATE "+
			"SET owner = EXCLUDED.owner, lease_until = EXCLUDED.lease_until, last_granted = EXCLUDED.last_granted "+
			"WHERE cur.owner IS NULL OR cur.lease_until <= EXCLUDED.last_granted OR cur.owner = EXCLUDED.owner",
		t.lease,
	)
	q.leaseRenew = fmt.Sprintf(
		"UPDATE %s SET lease_until = $3, last_granted = $4 WHERE name = $1 AND owner = $2 AND lease_until > $4",
		t.lease,
	)
	q.leaseRelease = fmt.Sprintf(
		"UPDATE %s SET owner = NULL, lease_until = NULL WHERE name = $1 AND owner = $2",
		t.lease,
	)
	q.leaseGet = fmt.Sprintf("SELECT name, owner, lease_until, last_granted FROM %s WHERE name = $1", t.lease)

	q.outboxEnqueue = fmt.Sprintf(
		"INSERT INTO %s (id, provider_name, message_key, payload, enqueued_at, due_time, attempt_count, status) "+
			"VALUES ($1, $2, $3, $4, $5, $6, 0, %d) "+
			"ON CONFLICT (provider_name, message_key) DO NOTHING",
		t.outbox,
		coord.MessagePending,
	)
	q.outboxLeaseDue = fmt.Sprintf(
		"SELECT id, provider_name, message_key, payload, enqueued_at, due_time, attempt_count, status, failure_reason "+
			"FROM %s WHERE provider_name = $1 AND status = %d AND (due_time IS NULL OR due_time <= $2) "+
			"ORDER BY due_time ASC NULLS FIRST, enqueued_at ASC LIMIT $3",
		t.outbox,
		coord.MessagePending,
	)
	q.outboxMarkSent = fmt.Sprintf(
		"UPDATE %s SET status = %d, failure_reason = NULL WHERE id = $1 AND status = %d",
		t.outbox,
		coord.MessageSent,
		coord.MessagePending,
	)
	q.outboxMarkFailed = fmt.Sprintf(
		"UPDATE %s SET attempt_count = attempt_count + 1, failure_reason = $2, "+
			"status = CASE WHEN attempt_count + 1 >= $3 THEN %d ELSE %d END, "+
			"due_time = CASE WHEN attempt_count + 1 >= $3 THEN due_time ELSE $4 END "+
			"WHERE id = $1 AND status = %d",
		t.outbox,
		coord.MessageFailed,
		coord.MessagePending,
		coord.MessagePending,
	)
	q.outboxPrune = fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE status <> %d AND enqueued_at < $1 LIMIT $2)",
		t.outbox,
		t.outbox,
		coord.MessagePending,
	)

	q.inboxReceive = fmt.Sprintf(
		"INSERT INTO %s (unique_key, payload, received_at, status, attempt_count, updated_at) "+
			"VALUES ($1, $2, $3, %d, 0, $3) "+
			"ON CONFLICT (unique_key) DO NOTHING",
		t.inbox,
		coord.WorkNew,
	)
	q.inboxClaim = fmt.Sprintf(
		"UPDATE %s SET status = %d, claimed_by = $2, claimed_until = $3, updated_at = $4 "+
			"WHERE unique_key = $1 AND (status = %d OR (status = %d AND claimed_until <= $4))",
		t.inbox,
		coord.WorkInProgress,
		coord.WorkNew,
		coord.WorkInProgress,
	)
	q.inboxComplete = fmt.Sprintf(
		"UPDATE %s SET status = %d, claimed_by = NULL, claimed_until = NULL, updated_at = $3 "+
			"WHERE unique_key = $1 AND status = %d AND claimed_by = $2",
		t.inbox,
		coord.WorkDone,
		coord.WorkInProgress,
	)
	q.inboxFail = fmt.Sprintf(
		"UPDATE %s SET attempt_count = attempt_count + 1, "+
			"status = CASE WHEN attempt_count + 1 >= $3 THEN %d ELSE %d END, "+
			"claimed_by = NULL, claimed_until = NULL, updated_at = $4 "+
			"WHERE unique_key = $1 AND status = %d AND claimed_by = $2",
		t.inbox,
		coord.WorkDead,
		coord.WorkNew,
		coord.WorkInProgress,
	)
	q.inboxGet = fmt.Sprintf(
		"SELECT unique_key, payload, received_at, status, attempt_count, claimed_by, claimed_until, updated_at "+
			"FROM %s WHERE unique_key = $1",
		t.inbox,
	)
	q.inboxStatus = fmt.Sprintf("SELECT status FROM %s WHERE unique_key = $1", t.inbox)
	q.inboxPrune = fmt.Sprintf(
		"DELETE FROM %s WHERE unique_key IN (SELECT unique_key FROM %s WHERE status IN (%d, %d) AND received_at < $1 LIMIT $2)",
		t.inbox,
		t.inbox,
		coord.WorkDone,
		coord.WorkDead,
	)

	q.cursorGet = fmt.Sprintf(
		"SELECT last_completed_at FROM %s WHERE fanout_topic = $1 AND work_key = $2 AND shard_key = $3",
		t.cursor,
	)
	q.cursorMark = fmt.Sprintf(
		"INSERT INTO %s AS cur (fanout_topic, work_key, shard_key, last_completed_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (fanout_topic, work_key, shard_key) DO UPDATE "+
			"SET last_completed_at = GREATEST(cur.last_completed_at, EXCLUDED.last_completed_at)",
		t.cursor,
	)

	return q
}
