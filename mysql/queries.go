package mysql

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
	if t.idempotency, err = qualifyName(cfg.Database, cfg.Tables.Idempotency); err != nil {
		return tables{}, err
	}
	if t.lease, err = qualifyName(cfg.Database, cfg.Tables.Lease); err != nil {
		return tables{}, err
	}
	if t.outbox, err = qualifyName(cfg.Database, cfg.Tables.Outbox); err != nil {
		return tables{}, err
	}
	if t.inbox, err = qualifyName(cfg.Database, cfg.Tables.InboxWork); err != nil {
		return tables{}, err
	}
	if t.cursor, err = qualifyName(cfg.Database, cfg.Tables.FanoutCursor); err != nil {
		return tables{}, err
	}

	return t, nil
}

type queries struct {
	idemTryClaim string
	idemInsert   string
	idemComplete string
	idemFail     string
	idemGet      string
	idemStatus   string

	leaseClaim   string
	leaseInsert  string
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
// operation stays a bounded number of round trips with positional arguments
// only for caller data. Claims over maybe-absent rows are a conditional
// UPDATE plus an INSERT IGNORE; attempt-count transitions join the table to
// itself so the CASE predicate reads the pre-update counter.
func newQueries(t tables) queries {
	var q queries

	q.idemTryClaim = fmt.Sprintf(
		"UPDATE %s SET status = %d, locked_until = ?, locked_by = ?, updated_at = ? "+
			"WHERE idempotency_key = ? AND status <> %d AND (status <> %d OR locked_until <= ?)",
		t.idempotency,
		coord.IdempotencyLocked,
		coord.IdempotencyCompleted,
		coord.IdempotencyLocked,
	)
	q.idemInsert = fmt.Sprintf(
		"INSERT IGNORE INTO %s (idempotency_key, status, locked_until, locked_by, failure_count, created_at, updated_at) "+
			"VALUES (?, %d, ?, ?, 0, ?, ?)",
		t.idempotency,
		coord.IdempotencyLocked,
	)
	q.idemComplete = fmt.Sprintf(
		"UPDATE %s SET status = %d, completed_at = ?, updated_at = ?, locked_until = NULL, locked_by = NULL "+
			"WHERE idempotency_key = ? AND status = %d AND locked_by = ?",
		t.idempotency,
		coord.IdempotencyCompleted,
		coord.IdempotencyLocked,
	)
	q.idemFail = fmt.Sprintf(
		"UPDATE %s SET status = %d, failure_count = failure_count + 1, locked_until = NULL, locked_by = NULL, updated_at = ? "+
			"WHERE idempotency_key = ? AND status = %d AND locked_by = ?",
		t.idempotency,
		coord.IdempotencyFailed,
		coord.IdempotencyLocked,
	)
	q.idemGet = fmt.Sprintf(
		"SELECT idempotency_key, status, locked_until, locked_by, failure_count, created_at, updated_at, completed_at "+
			"FROM %s WHERE idempotency_key = ?",
		t.idempotency,
	)
	q.idemStatus = fmt.Sprintf("SELECT status FROM %s WHERE idempotency_key = ?", t.idempotency)

	q.leaseClaim = fmt.Sprintf(
		"UPDATE %s SET owner = ?, lease_until = ?, last_granted = ? "+
			"WHERE name = ? AND (owner IS NULL OR lease_until <= ? OR owner = ?)",
		t.lease,
	)
	q.leaseInsert = fmt.Sprintf(
		"INSERT IGNORE INTO %s (name, owner, lease_until, last_granted) VALUES (?, ?, ?, ?)",
		t.lease,
	)
	q.leaseRenew = fmt.Sprintf(
		"UPDATE %s SET lease_until = ?, last_granted = ? WHERE name = ? AND owner = ? AND lease_until > ?",
		t.lease,
	)
	q.leaseRelease = fmt.Sprintf(
		"UPDATE %s SET owner = NULL, lease_until = NULL WHERE name = ? AND owner = ?",
		t.lease,
	)
	q.leaseGet = fmt.Sprintf("SELECT name, owner, lease_until, last_granted FROM %s WHERE name = ?", t.lease)

	q.outboxEnqueue = fmt.Sprintf(
		"INSERT IGNORE INTO %s (id, provider_name, message_key, payload, enqueued_at, due_time, attempt_count, status) "+
			"VALUES (?, ?, ?, ?, ?, ?, 0, %d)",
		t.outbox,
		coord.MessagePending,
	)
	q.outboxLeaseDue = fmt.Sprintf(
		"SELECT id, provider_name, message_key, payload, enqueued_at, due_time, attempt_count, status, failure_reason "+
			"FROM %s WHERE provider_name = ? AND status = %d AND (due_time IS NULL OR due_time <= ?) "+
			"ORDER BY due_time ASC, enqueued_at ASC LIMIT ?",
		t.outbox,
		coord.MessagePending,
	)
	q.outboxMarkSent = fmt.Sprintf(
		"UPDATE %s SET status = %d, failure_reason = NULL WHERE id = ? AND status = %d",
		t.outbox,
		coord.MessageSent,
		coord.MessagePending,
	)
	q.outboxMarkFailed = fmt.Sprintf(
		"UPDATE %s AS cur JOIN %s AS prev ON prev.id = cur.id "+
			"SET cur.attempt_count = prev.attempt_count + 1, cur.failure_reason = ?, "+
			"cur.status = CASE WHEN prev.attempt_count + 1 >= ? THEN %d ELSE %d END, "+
			"cur.due_time = CASE WHEN prev.attempt_count + 1 >= ? THEN prev.due_time ELSE ? END "+
			"WHERE cur.id = ? AND cur.status = %d",
		t.outbox,
		t.outbox,
		coord.MessageFailed,
		coord.MessagePending,
		coord.MessagePending,
	)
	q.outboxPrune = fmt.Sprintf(
		"DELETE FROM %s WHERE status <> %d AND enqueued_at < ? LIMIT ?",
		t.outbox,
		coord.MessagePending,
	)

	q.inboxReceive = fmt.Sprintf(
		"INSERT IGNORE INTO %s (unique_key, payload, received_at, status, attempt_count, updated_at) "+
			"VALUES (?, ?, ?, %d, 0, ?)",
		t.inbox,
		coord.WorkNew,
	)
	q.inboxClaim = fmt.Sprintf(
		"UPDATE %s SET status = %d, claimed_by = ?, claimed_until = ?, updated_at = ? "+
			"WHERE unique_key = ? AND (status = %d OR (status = %d AND claimed_until <= ?))",
		t.inbox,
		coord.WorkInProgress,
		coord.WorkNew,
		coord.WorkInProgress,
	)
	q.inboxComplete = fmt.Sprintf(
		"UPDATE %s SET status = %d, claimed_by = NULL, claimed_until = NULL, updated_at = ? "+
			"WHERE unique_key = ? AND status = %d AND claimed_by = ?",
		t.inbox,
		coord.WorkDone,
		coord.WorkInProgress,
	)
	q.inboxFail = fmt.Sprintf(
		"UPDATE %s AS cur JOIN %s AS prev ON prev.unique_key = cur.unique_key "+
			"SET cur.attempt_count = prev.attempt_count + 1, "+
			"cur.status = CASE WHEN prev.attempt_count + 1 >= ? THEN %d ELSE %d END, "+
			"cur.claimed_by = NULL, cur.claimed_until = NULL, cur.updated_at = ? "+
			"WHERE cur.unique_key = ? AND cur.status = %d AND cur.claimed_by = ?",
		t.inbox,
		t.inbox,
		coord.WorkDead,
		coord.WorkNew,
		coord.WorkInProgress,
	)
	q.inboxGet = fmt.Sprintf(
		"SELECT unique_key, payload, received_at, status, attempt_count, claimed_by, claimed_until, updated_at "+
			"FROM %s WHERE unique_key = ?",
		t.inbox,
	)
	q.inboxStatus = fmt.Sprintf("SELECT status FROM %s WHERE unique_key = ?", t.inbox)
	q.inboxPrune = fmt.Sprintf(
		"DELETE FROM %s WHERE status IN (%d, %d) AND received_at < ? LIMIT ?",
		t.inbox,
		coord.WorkDone,
		coord.WorkDead,
	)

	q.cursorGet = fmt.Sprintf(
		"SELECT last_completed_at FROM %s WHERE fanout_topic = ? AND work_key = ? AND shard_key = ?",
		t.cursor,
	)
	q.cursorMark = fmt.Sprintf(
		"INSERT INTO %s (fanout_topic, work_key, shard_key, last_completed_at) VALUES (?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE last_completed_at = GREATEST(last_completed_at, VALUES(last_completed_at))",
		t.cursor,
	)

	return q
}
