package coord

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	outboxBefore time.Time
	inboxBefore  time.Time
	limit        int
	outboxN      int64
	inboxN       int64
	err          error
}

func (p *fakePruner) PruneOutbox(_ context.Context, before time.Time, limit int) (int64, error) {
	p.outboxBefore = before
	p.limit = limit

	return p.outboxN, p.err
}

func (p *fakePruner) PruneInbox(_ context.Context, before time.Time, _ int) (int64, error) {
	p.inboxBefore = before

	return p.inboxN, p.err
}

func TestNewRetentionMaintainer_Validation(t *testing.T) {
	if _, err := NewRetentionMaintainer(nil, nil, RetentionConfig{Retention: time.Hour}); !errors.Is(err, ErrPrunerRequired) {
		t.Fatalf("expected ErrPrunerRequired, got %v", err)
	}
	if _, err := NewRetentionMaintainer(&fakePruner{}, nil, RetentionConfig{}); !errors.Is(err, ErrRetentionInvalid) {
		t.Fatalf("expected ErrRetentionInvalid, got %v", err)
	}
}

func TestRetentionMaintainer_RunOnce(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{outboxN: 3, inboxN: 2}

	maintainer, err := NewRetentionMaintainer(pruner, nil, RetentionConfig{
		Retention: 24 * time.Hour,
		Limit:     500,
		Clock:     fixedClock{now: now},
	})
	if err != nil {
		t.Fatalf("new maintainer: %v", err)
	}

	result, err := maintainer.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.Outbox != 3 || result.Inbox != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	cutoff := now.Add(-24 * time.Hour)
	if !pruner.outboxBefore.Equal(cutoff) || !pruner.inboxBefore.Equal(cutoff) {
		t.Fatalf("expected cutoff %v, got outbox %v inbox %v", cutoff, pruner.outboxBefore, pruner.inboxBefore)
	}
	if pruner.limit != 500 {
		t.Fatalf("expected limit 500, got %d", pruner.limit)
	}
}

func TestRetentionMaintainer_DeniedLeaseSkipsRun(t *testing.T) {
	pruner := &fakePruner{outboxN: 3}
	leases := &fakeLeaseStore{result: Denied}

	maintainer, err := NewRetentionMaintainer(pruner, leases, RetentionConfig{Retention: time.Hour})
	if err != nil {
		t.Fatalf("new maintainer: %v", err)
	}

	result, err := maintainer.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.Outbox != 0 || result.Inbox != 0 {
		t.Fatalf("expected zero result while lease denied, got %+v", result)
	}
	if !pruner.outboxBefore.IsZero() {
		t.Fatalf("expected pruner untouched")
	}
}

func TestRetentionMaintainer_PruneErrorSurfaces(t *testing.T) {
	pruneErr := errors.New("deadlock")
	pruner := &fakePruner{err: pruneErr}

	maintainer, err := NewRetentionMaintainer(pruner, nil, RetentionConfig{Retention: time.Hour})
	if err != nil {
		t.Fatalf("new maintainer: %v", err)
	}

	if _, err := maintainer.RunOnce(context.Background()); !errors.Is(err, pruneErr) {
		t.Fatalf("expected prune error, got %v", err)
	}
}
