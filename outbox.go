package coord

import (
	"context"
	"encoding/json"
	"time"
)

// MessageStatus represents the lifecycle state of an outbox message.
type MessageStatus int16

const (
	// MessagePending indicates the message awaits delivery.
	MessagePending MessageStatus = 0
	// MessageSent indicates the message was delivered. Terminal.
	MessageSent MessageStatus = 1
	// MessageFailed indicates the message exhausted its retry budget. Terminal.
	MessageFailed MessageStatus = -1
)

// EnqueueResult classifies the outcome of Enqueue.
type EnqueueResult int

const (
	// Accepted means a new message row was created.
	Accepted EnqueueResult = iota
	// AlreadyEnqueued means the (provider, message key) pair already exists;
	// the stored payload is the first successfully inserted one.
	AlreadyEnqueued
)

// Message is a stored outbox message.
type Message struct {
	ID            ID
	Provider      string
	MessageKey    string
	Payload       json.RawMessage
	EnqueuedAt    time.Time
	DueTime       *time.Time
	AttemptCount  int
	Status        MessageStatus
	FailureReason string
}

// Envelope describes a new outbox message to be persisted.
type Envelope struct {
	// ID is optional; if zero, the store generator assigns a UUID v7.
	ID ID
	// Provider names the delivery target (e.g., "email").
	Provider string
	// MessageKey deduplicates messages per provider.
	MessageKey string
	// Payload is the opaque serialized message body.
	Payload json.RawMessage
	// DueTime optionally delays delivery; nil means due immediately.
	DueTime *time.Time
}

// Validate checks required fields before any store call.
func (e Envelope) Validate() error {
	if err := ValidateKey(e.Provider); err != nil {
		return err
	}
	if err := ValidateKey(e.MessageKey); err != nil {
		return err
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}

	return nil
}

// OutboxStore durably records outgoing messages and exposes the transitions
// a delivery loop needs. Enqueue is safe to retry; delivery exclusivity is
// the caller's responsibility, typically one relay per provider guarded by
// the lease coordinator.
type OutboxStore interface {
	// Enqueue inserts the message unless the (provider, message key) pair
	// already exists. The returned ID is meaningful only when the result is
	// Accepted.
	Enqueue(ctx context.Context, env Envelope) (EnqueueResult, ID, error)
	// LeaseDue returns pending messages for the provider whose due time has
	// passed, ordered by (due time, enqueued at), up to batchSize.
	LeaseDue(ctx context.Context, provider string, batchSize int) ([]Message, error)
	// MarkSent transitions Pending to Sent. Idempotent; a message already in
	// a terminal state is left untouched.
	MarkSent(ctx context.Context, id ID) error
	// MarkFailed increments the attempt count; if the incremented count
	// reaches maxAttempts the message becomes Failed, otherwise it stays
	// Pending with its due time advanced to nextDue. The reason is recorded
	// either way and cleared by a later MarkSent.
	MarkFailed(ctx context.Context, id ID, reason string, maxAttempts int, nextDue time.Time) error
}
