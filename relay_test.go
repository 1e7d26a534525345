package coord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type failCall struct {
	id          ID
	reason      string
	maxAttempts int
	nextDue     time.Time
}

type fakeOutboxStore struct {
	mu         sync.Mutex
	due        []Message
	leaseErr   error
	leaseCalls int32
	sent       []ID
	failures   []failCall
}

func (s *fakeOutboxStore) Enqueue(_ context.Context, _ Envelope) (EnqueueResult, ID, error) {
	return Accepted, ID{}, nil
}

func (s *fakeOutboxStore) LeaseDue(_ context.Context, _ string, _ int) ([]Message, error) {
	atomic.AddInt32(&s.leaseCalls, 1)
	if s.leaseErr != nil {
		return nil, s.leaseErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.due
	s.due = nil

	return batch, nil
}

func (s *fakeOutboxStore) MarkSent(_ context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)

	return nil
}

func (s *fakeOutboxStore) MarkFailed(_ context.Context, id ID, reason string, maxAttempts int, nextDue time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failCall{id: id, reason: reason, maxAttempts: maxAttempts, nextDue: nextDue})

	return nil
}

type fakeLeaseStore struct {
	result AcquireResult
	calls  int32
}

func (s *fakeLeaseStore) Acquire(_ context.Context, _, _ string, _ time.Duration) (AcquireResult, error) {
	atomic.AddInt32(&s.calls, 1)

	return s.result, nil
}

func (s *fakeLeaseStore) Renew(_ context.Context, _, _ string, _ time.Duration) (AcquireResult, error) {
	return s.result, nil
}

func (s *fakeLeaseStore) Release(_ context.Context, _, _ string) error {
	return nil
}

func (s *fakeLeaseStore) GetLease(_ context.Context, _ string) (*Lease, error) {
	return nil, ErrNotFound
}

func testMessage(n byte) Message {
	var id ID
	id[15] = n

	return Message{ID: id, Provider: "email", MessageKey: "m", Payload: []byte(`{}`)}
}

func TestRelay_ProcessOnce_MarksDeliveredSent(t *testing.T) {
	store := &fakeOutboxStore{due: []Message{testMessage(1), testMessage(2)}}
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return nil
	}), "email")

	processed, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !processed {
		t.Fatalf("expected processed batch")
	}
	if len(store.sent) != 2 {
		t.Fatalf("expected 2 sent, got %d", len(store.sent))
	}
	if len(store.failures) != 0 {
		t.Fatalf("expected no failures, got %d", len(store.failures))
	}
}

func TestRelay_ProcessOnce_EmptyPoll(t *testing.T) {
	store := &fakeOutboxStore{}
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return nil
	}), "email")

	processed, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if processed {
		t.Fatalf("expected no work reported for empty poll")
	}
}

func TestRelay_ProcessOnce_SchedulesRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := testMessage(1)
	msg.AttemptCount = 1
	store := &fakeOutboxStore{due: []Message{msg}}
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}

	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return errors.New("smtp unavailable")
	}), "email",
		WithClock(fixedClock{now: now}),
		WithRetryPolicy(policy),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", len(store.failures))
	}

	fail := store.failures[0]
	if fail.maxAttempts != 5 {
		t.Fatalf("expected retry budget passed through, got %d", fail.maxAttempts)
	}
	if fail.reason != "smtp unavailable" {
		t.Fatalf("unexpected reason %q", fail.reason)
	}
	// Second failure of this message backs off to 2s.
	want := now.Add(2 * time.Second)
	if !fail.nextDue.Equal(want) {
		t.Fatalf("expected next due %v, got %v", want, fail.nextDue)
	}
}

func TestRelay_ProcessOnce_DeadLetterOnClassifier(t *testing.T) {
	msg := testMessage(1)
	msg.AttemptCount = 0
	store := &fakeOutboxStore{due: []Message{msg}}

	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return errors.New("unknown recipient")
	}), "email",
		WithFailureClassifier(func(_ context.Context, _ Message, _ error) FailureAction {
			return FailureDead
		}),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", len(store.failures))
	}
	if store.failures[0].maxAttempts != 1 {
		t.Fatalf("expected budget forced to current attempt, got %d", store.failures[0].maxAttempts)
	}
}

func TestRelay_ProcessOnce_SenderPanicBecomesFailure(t *testing.T) {
	store := &fakeOutboxStore{due: []Message{testMessage(1)}}

	var handled error
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		panic("boom")
	}), "email",
		WithErrorHandler(func(_ context.Context, _ Message, err error) {
			handled = err
		}),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !errors.Is(handled, ErrSenderPanic) {
		t.Fatalf("expected ErrSenderPanic, got %v", handled)
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected panic recorded as failure, got %d", len(store.failures))
	}
}

func TestRelay_ProcessOnce_PropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &fakeOutboxStore{leaseErr: storeErr}
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return nil
	}), "email")

	if _, err := relay.ProcessOnce(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRelay_Run_DeniedLeaseSkipsPolling(t *testing.T) {
	store := &fakeOutboxStore{}
	leases := &fakeLeaseStore{result: Denied}
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return nil
	}), "email",
		WithPollInterval(time.Millisecond),
		WithExclusiveLease(leases, "", 0),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if atomic.LoadInt32(&leases.calls) == 0 {
		t.Fatalf("expected lease attempts")
	}
	if atomic.LoadInt32(&store.leaseCalls) != 0 {
		t.Fatalf("expected no polling while lease denied, got %d polls", store.leaseCalls)
	}
}

func TestRelay_Run_StopsOnCancel(t *testing.T) {
	store := &fakeOutboxStore{}
	relay := NewRelay(store, SenderFunc(func(context.Context, Message) error {
		return nil
	}), "email", WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("relay did not stop after cancel")
	}
}

func TestNewRelay_PanicsOnInvalidInput(t *testing.T) {
	sender := SenderFunc(func(context.Context, Message) error {
		return nil
	})

	assertPanics(t, func() {
		NewRelay(nil, sender, "email")
	})
	assertPanics(t, func() {
		NewRelay(&fakeOutboxStore{}, nil, "email")
	})
	assertPanics(t, func() {
		NewRelay(&fakeOutboxStore{}, sender, "")
	})
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}
