package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/velmie/coord"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type fixedGenerator struct {
	id    coord.ID
	calls int
}

func (g *fixedGenerator) New() (coord.ID, error) {
	g.calls++

	return g.id, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	opts = append([]Option{WithClock(fixedClock{now: testNow})}, opts...)
	store, err := NewStore(db, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	return store, mock
}

func expectDone(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewStore(db, WithTableNames(TableNames{Outbox: "bad;name"})); err == nil {
		t.Fatalf("expected invalid table name rejected")
	}
}

func TestTryBegin_AppliedWins(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.idemTryBegin).
		WithArgs("op-1", until, "worker-a", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := store.TryBegin(context.Background(), "op-1", "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("try begin: %v", err)
	}
	if res != coord.Began {
		t.Fatalf("expected Began, got %v", res)
	}
	expectDone(t, mock)
}

func TestTryBegin_LoserClassifiesCompleted(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.idemTryBegin).
		WithArgs("op-1", until, "worker-b", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(store.queries.idemStatus).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(int16(coord.IdempotencyCompleted)))

	res, err := store.TryBegin(context.Background(), "op-1", "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("try begin: %v", err)
	}
	if res != coord.AlreadyCompleted {
		t.Fatalf("expected AlreadyCompleted, got %v", res)
	}
	expectDone(t, mock)
}

func TestTryBegin_LoserClassifiesLocked(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.idemTryBegin).
		WithArgs("op-1", until, "worker-b", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(store.queries.idemStatus).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(int16(coord.IdempotencyLocked)))

	res, err := store.TryBegin(context.Background(), "op-1", "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("try begin: %v", err)
	}
	if res != coord.AlreadyLocked {
		t.Fatalf("expected AlreadyLocked, got %v", res)
	}
	expectDone(t, mock)
}

func TestComplete_StaleOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(store.queries.idemComplete).
		WithArgs("op-1", "worker-a", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Complete(context.Background(), "op-1", "worker-a"); !errors.Is(err, coord.ErrStaleOwner) {
		t.Fatalf("expected ErrStaleOwner, got %v", err)
	}
	expectDone(t, mock)
}

func TestAcquire_GrantedAndDenied(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.leaseAcquire).
		WithArgs("job", "node-a", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(store.queries.leaseAcquire).
		WithArgs("job", "node-b", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := store.Acquire(context.Background(), "job", "node-a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if res != coord.Granted {
		t.Fatalf("expected Granted, got %v", res)
	}

	res, err = store.Acquire(context.Background(), "job", "node-b", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if res != coord.Denied {
		t.Fatalf("expected Denied, got %v", res)
	}
	expectDone(t, mock)
}

func TestEnqueue_GeneratesIDAndDetectsDuplicate(t *testing.T) {
	gen := &fixedGenerator{id: coord.ID{0x01}}
	store, mock := newMockStore(t, WithGenerator(gen))

	env := coord.Envelope{Provider: "email", MessageKey: "m-1", Payload: []byte(`{"to":"a"}`)}

	mock.ExpectExec(store.queries.outboxEnqueue).
		WithArgs(gen.id, "email", "m-1", []byte(`{"to":"a"}`), testNow, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(store.queries.outboxEnqueue).
		WithArgs(gen.id, "email", "m-1", []byte(`{"to":"a"}`), testNow, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, id, err := store.Enqueue(context.Background(), env)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res != coord.Accepted || id != gen.id {
		t.Fatalf("expected Accepted with generated id, got %v %v", res, id)
	}
	if gen.calls != 1 {
		t.Fatalf("expected generator called once, got %d", gen.calls)
	}

	res, id, err = store.Enqueue(context.Background(), env)
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if res != coord.AlreadyEnqueued || !id.IsZero() {
		t.Fatalf("expected AlreadyEnqueued with zero id, got %v %v", res, id)
	}
	expectDone(t, mock)
}

func TestEnqueueTx_RequiresExecutor(t *testing.T) {
	store, _ := newMockStore(t)

	env := coord.Envelope{Provider: "email", MessageKey: "m-1", Payload: []byte(`{}`)}
	if _, _, err := store.EnqueueTx(context.Background(), nil, env); !errors.Is(err, ErrExecutorRequired) {
		t.Fatalf("expected ErrExecutorRequired, got %v", err)
	}
}

func TestLeaseDue_ScansBatch(t *testing.T) {
	store, mock := newMockStore(t)

	id := coord.ID{0x01}
	rows := sqlmock.NewRows([]string{
		"id", "provider_name", "message_key", "payload", "enqueued_at", "due_time", "attempt_count", "status", "failure_reason",
	}).AddRow(id.Bytes(), "email", "m-1", []byte(`{}`), testNow, nil, 1, int16(coord.MessagePending), "timeout")

	mock.ExpectQuery(store.queries.outboxLeaseDue).
		WithArgs("email", testNow, 10).
		WillReturnRows(rows)

	msgs, err := store.LeaseDue(context.Background(), "email", 10)
	if err != nil {
		t.Fatalf("lease due: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != id || msg.AttemptCount != 1 || msg.FailureReason != "timeout" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.DueTime != nil {
		t.Fatalf("expected nil due time")
	}
	expectDone(t, mock)
}

func TestMarkFailed_PassesBudgetAndDue(t *testing.T) {
	store, mock := newMockStore(t)

	id := coord.ID{0x02}
	next := testNow.Add(time.Minute)
	mock.ExpectExec(store.queries.outboxMarkFailed).
		WithArgs(id, "timeout", 5, next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkFailed(context.Background(), id, "timeout", 5, next); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(context.Background(), id, "timeout", 0, next); !errors.Is(err, coord.ErrMaxAttemptsInvalid) {
		t.Fatalf("expected ErrMaxAttemptsInvalid, got %v", err)
	}
	expectDone(t, mock)
}

func TestClaim_ClassifiesLoser(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.inboxClaim).
		WithArgs("evt-1", "worker-b", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(store.queries.inboxStatus).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(int16(coord.WorkDone)))

	res, err := store.Claim(context.Background(), "evt-1", "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res != coord.AlreadyDone {
		t.Fatalf("expected AlreadyDone, got %v", res)
	}
	expectDone(t, mock)
}

func TestClaim_UnknownKey(t *testing.T) {
	store, mock := newMockStore(t)
	until := testNow.Add(time.Minute)

	mock.ExpectExec(store.queries.inboxClaim).
		WithArgs("missing", "worker", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(store.queries.inboxStatus).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Claim(context.Background(), "missing", "worker", time.Minute); !errors.Is(err, coord.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestMarkCompleted_UsesGreatest(t *testing.T) {
	store, mock := newMockStore(t)

	key := coord.CursorKey{Topic: "billing", WorkKey: "run", ShardKey: "t1"}
	at := testNow.Add(-time.Hour)
	mock.ExpectExec(store.queries.cursorMark).
		WithArgs("billing", "run", "t1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkCompleted(context.Background(), key, at); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	expectDone(t, mock)
}
