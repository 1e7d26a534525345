// Package memory provides an in-memory coord.Store for tests and
// single-process use. Semantics mirror the SQL adapters: every mutation is
// one predicate-guarded update applied under a single mutex, so the same
// contention outcomes are observable without a database.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/velmie/coord"
)

type messageKey struct {
	provider string
	key      string
}

// Store implements coord.Store and coord.Pruner in memory.
type Store struct {
	mu          sync.Mutex
	clock       coord.Clock
	gen         coord.IDGenerator
	idempotency map[string]*coord.IdempotencyRecord
	leases      map[string]*coord.Lease
	messages    map[coord.ID]*coord.Message
	messageIDs  map[messageKey]coord.ID
	work        map[string]*coord.WorkItem
	cursors     map[coord.CursorKey]time.Time
}

var _ coord.Store = (*Store)(nil)
var _ coord.Pruner = (*Store)(nil)

// Option configures the in-memory store.
type Option func(*Store)

// WithClock sets the time source used by the store.
func WithClock(clock coord.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithGenerator sets the message ID generator.
func WithGenerator(gen coord.IDGenerator) Option {
	return func(s *Store) {
		s.gen = gen
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		idempotency: make(map[string]*coord.IdempotencyRecord),
		leases:      make(map[string]*coord.Lease),
		messages:    make(map[coord.ID]*coord.Message),
		messageIDs:  make(map[messageKey]coord.ID),
		work:        make(map[string]*coord.WorkItem),
		cursors:     make(map[coord.CursorKey]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = coord.SystemClock{}
	}
	if s.gen == nil {
		s.gen = coord.NewUUIDv7Generator(s.clock)
	}

	return s
}

// TryBegin implements coord.IdempotencyStore.
func (s *Store) TryBegin(ctx context.Context, key, owner string, ttl time.Duration) (coord.BeginResult, error) {
	if err := validateClaimArgs(key, owner, ttl); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	until := now.Add(ttl)

	rec, ok := s.idempotency[key]
	if !ok {
		s.idempotency[key] = &coord.IdempotencyRecord{
			Key:         key,
			Status:      coord.IdempotencyLocked,
			LockedUntil: &until,
			LockedBy:    owner,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		return coord.Began, nil
	}

	if rec.Status == coord.IdempotencyCompleted {
		return coord.AlreadyCompleted, nil
	}
	if rec.Status == coord.IdempotencyLocked && rec.LockedUntil != nil && rec.LockedUntil.After(now) {
		return coord.AlreadyLocked, nil
	}

	rec.Status = coord.IdempotencyLocked
	rec.LockedUntil = &until
	rec.LockedBy = owner
	rec.UpdatedAt = now

	return coord.Began, nil
}

// Complete implements coord.IdempotencyStore.
func (s *Store) Complete(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rec, ok := s.idempotency[key]
	if !ok || rec.Status != coord.IdempotencyLocked || rec.LockedBy != owner {
		return coord.ErrStaleOwner
	}

	rec.Status = coord.IdempotencyCompleted
	rec.LockedUntil = nil
	rec.LockedBy = ""
	rec.CompletedAt = &now
	rec.UpdatedAt = now

	return nil
}

// Fail implements coord.IdempotencyStore.
func (s *Store) Fail(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok || rec.Status != coord.IdempotencyLocked || rec.LockedBy != owner {
		return coord.ErrStaleOwner
	}

	rec.Status = coord.IdempotencyFailed
	rec.FailureCount++
	rec.LockedUntil = nil
	rec.LockedBy = ""
	rec.UpdatedAt = s.clock.Now()

	return nil
}

// GetIdempotency implements coord.IdempotencyStore.
func (s *Store) GetIdempotency(ctx context.Context, key string) (*coord.IdempotencyRecord, error) {
	if err := coord.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok {
		return nil, coord.ErrNotFound
	}
	out := *rec
	out.LockedUntil = cloneTime(rec.LockedUntil)
	out.CompletedAt = cloneTime(rec.CompletedAt)

	return &out, nil
}

// Acquire implements coord.LeaseStore.
func (s *Store) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (coord.AcquireResult, error) {
	if err := validateClaimArgs(name, owner, ttl); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	until := now.Add(ttl)

	lease, ok := s.leases[name]
	if !ok {
		s.leases[name] = &coord.Lease{Name: name, Owner: owner, LeaseUntil: &until, LastGranted: now}

		return coord.Granted, nil
	}

	held := lease.Owner != "" && lease.LeaseUntil != nil && lease.LeaseUntil.After(now)
	if held && lease.Owner != owner {
		return coord.Denied, nil
	}

	lease.Owner = owner
	lease.LeaseUntil = &until
	lease.LastGranted = now

	return coord.Granted, nil
}

// Renew implements coord.LeaseStore.
func (s *Store) Renew(ctx context.Context, name, owner string, ttl time.Duration) (coord.AcquireResult, error) {
	if err := validateClaimArgs(name, owner, ttl); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	lease, ok := s.leases[name]
	if !ok || lease.Owner != owner || lease.LeaseUntil == nil || !lease.LeaseUntil.After(now) {
		return coord.Denied, nil
	}

	until := now.Add(ttl)
	lease.LeaseUntil = &until
	lease.LastGranted = now

	return coord.Granted, nil
}

// Release implements coord.LeaseStore.
func (s *Store) Release(ctx context.Context, name, owner string) error {
	if err := validateKeyOwner(name, owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[name]
	if !ok || lease.Owner != owner {
		return nil
	}

	lease.Owner = ""
	lease.LeaseUntil = nil

	return nil
}

// GetLease implements coord.LeaseStore.
func (s *Store) GetLease(ctx context.Context, name string) (*coord.Lease, error) {
	if err := coord.ValidateKey(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[name]
	if !ok {
		return nil, coord.ErrNotFound
	}
	out := *lease
	out.LeaseUntil = cloneTime(lease.LeaseUntil)

	return &out, nil
}

// Enqueue implements coord.OutboxStore.
func (s *Store) Enqueue(ctx context.Context, env coord.Envelope) (coord.EnqueueResult, coord.ID, error) {
	if err := env.Validate(); err != nil {
		return 0, coord.ID{}, err
	}
	if err := ctx.Err(); err != nil {
		return 0, coord.ID{}, err
	}

	id := env.ID
	if id.IsZero() {
		var err error
		id, err = s.gen.New()
		if err != nil {
			return 0, coord.ID{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mk := messageKey{provider: env.Provider, key: env.MessageKey}
	if _, ok := s.messageIDs[mk]; ok {
		return coord.AlreadyEnqueued, coord.ID{}, nil
	}

	s.messageIDs[mk] = id
	s.messages[id] = &coord.Message{
		ID:         id,
		Provider:   env.Provider,
		MessageKey: env.MessageKey,
		Payload:    slices.Clone(env.Payload),
		EnqueuedAt: s.clock.Now(),
		DueTime:    cloneTime(env.DueTime),
		Status:     coord.MessagePending,
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	due := make([]coord.Message, 0, batchSize)
	for _, msg := range s.messages {
		if msg.Provider != provider || msg.Status != coord.MessagePending {
			continue
		}
		if msg.DueTime != nil && msg.DueTime.After(now) {
			continue
		}
		out := *msg
		out.Payload = slices.Clone(msg.Payload)
		out.DueTime = cloneTime(msg.DueTime)
		due = append(due, out)
	}

	slices.SortFunc(due, compareDue)
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	return due, nil
}

// MarkSent implements coord.OutboxStore.
func (s *Store) MarkSent(ctx context.Context, id coord.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Status != coord.MessagePending {
		return nil
	}

	msg.Status = coord.MessageSent
	msg.FailureReason = ""

	return nil
}

// MarkFailed implements coord.OutboxStore.
func (s *Store) MarkFailed(ctx context.Context, id coord.ID, reason string, maxAttempts int, nextDue time.Time) error {
	if maxAttempts <= 0 {
		return coord.ErrMaxAttemptsInvalid
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Status != coord.MessagePending {
		return nil
	}

	msg.AttemptCount++
	msg.FailureReason = coord.TruncateReason(reason)
	if msg.AttemptCount >= maxAttempts {
		msg.Status = coord.MessageFailed
	} else {
		due := nextDue
		msg.DueTime = &due
	}

	return nil
}

// Receive implements coord.InboxStore.
func (s *Store) Receive(ctx context.Context, key string, payload json.RawMessage) (coord.ReceiveResult, error) {
	if err := coord.ValidateKey(key); err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, coord.ErrPayloadRequired
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.work[key]; ok {
		return coord.Duplicate, nil
	}

	now := s.clock.Now()
	s.work[key] = &coord.WorkItem{
		Key:        key,
		Payload:    slices.Clone(payload),
		ReceivedAt: now,
		Status:     coord.WorkNew,
		UpdatedAt:  now,
	}

	return coord.Received, nil
}

// Claim implements coord.InboxStore.
func (s *Store) Claim(ctx context.Context, key, owner string, ttl time.Duration) (coord.ClaimResult, error) {
	if err := validateClaimArgs(key, owner, ttl); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.work[key]
	if !ok {
		return 0, coord.ErrNotFound
	}

	now := s.clock.Now()
	switch {
	case item.Status == coord.WorkDone:
		return coord.AlreadyDone, nil
	case item.Status == coord.WorkDead:
		return coord.AlreadyDead, nil
	case item.Status == coord.WorkInProgress && item.ClaimedUntil != nil && item.ClaimedUntil.After(now):
		return coord.AlreadyClaimed, nil
	}

	until := now.Add(ttl)
	item.Status = coord.WorkInProgress
	item.ClaimedBy = owner
	item.ClaimedUntil = &until
	item.UpdatedAt = now

	return coord.Claimed, nil
}

// CompleteWork implements coord.InboxStore.
func (s *Store) CompleteWork(ctx context.Context, key, owner string) error {
	if err := validateKeyOwner(key, owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.work[key]
	if !ok || item.Status != coord.WorkInProgress || item.ClaimedBy != owner {
		return coord.ErrStaleOwner
	}

	item.Status = coord.WorkDone
	item.ClaimedBy = ""
	item.ClaimedUntil = nil
	item.UpdatedAt = s.clock.Now()

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
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.work[key]
	if !ok || item.Status != coord.WorkInProgress || item.ClaimedBy != owner {
		return coord.ErrStaleOwner
	}

	item.AttemptCount++
	item.ClaimedBy = ""
	item.ClaimedUntil = nil
	item.UpdatedAt = s.clock.Now()
	if item.AttemptCount >= maxAttempts {
		item.Status = coord.WorkDead
	} else {
		item.Status = coord.WorkNew
	}

	return nil
}

// GetWorkItem implements coord.InboxStore.
func (s *Store) GetWorkItem(ctx context.Context, key string) (*coord.WorkItem, error) {
	if err := coord.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.work[key]
	if !ok {
		return nil, coord.ErrNotFound
	}
	out := *item
	out.Payload = slices.Clone(item.Payload)
	out.ClaimedUntil = cloneTime(item.ClaimedUntil)

	return &out, nil
}

// LastCompleted implements coord.CursorStore.
func (s *Store) LastCompleted(ctx context.Context, key coord.CursorKey) (time.Time, bool, error) {
	if err := key.Validate(); err != nil {
		return time.Time{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.cursors[key]

	return last, ok, nil
}

// MarkCompleted implements coord.CursorStore.
func (s *Store) MarkCompleted(ctx context.Context, key coord.CursorKey, completedAt time.Time) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.cursors[key]
	if !ok || completedAt.After(last) {
		s.cursors[key] = completedAt
	}

	return nil
}

// PruneOutbox implements coord.Pruner.
func (s *Store) PruneOutbox(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, coord.ErrInvalidBatchSize
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, msg := range s.messages {
		if removed >= int64(limit) {
			break
		}
		if msg.Status == coord.MessagePending || !msg.EnqueuedAt.Before(before) {
			continue
		}
		delete(s.messages, id)
		delete(s.messageIDs, messageKey{provider: msg.Provider, key: msg.MessageKey})
		removed++
	}

	return removed, nil
}

// PruneInbox implements coord.Pruner.
func (s *Store) PruneInbox(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, coord.ErrInvalidBatchSize
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, item := range s.work {
		if removed >= int64(limit) {
			break
		}
		if item.Status != coord.WorkDone && item.Status != coord.WorkDead {
			continue
		}
		if !item.ReceivedAt.Before(before) {
			continue
		}
		delete(s.work, key)
		removed++
	}

	return removed, nil
}

func compareDue(a, b coord.Message) int {
	switch {
	case a.DueTime == nil && b.DueTime != nil:
		return -1
	case a.DueTime != nil && b.DueTime == nil:
		return 1
	case a.DueTime != nil && b.DueTime != nil && !a.DueTime.Equal(*b.DueTime):
		return a.DueTime.Compare(*b.DueTime)
	default:
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	}
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

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t

	return &out
}
