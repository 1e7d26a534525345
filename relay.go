package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sender delivers a single outbox message.
type Sender interface {
	// Send delivers the message and returns an error on failure.
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (fn SenderFunc) Send(ctx context.Context, msg Message) error {
	return fn(ctx, msg)
}

// FailureAction defines how a failed delivery should be handled.
type FailureAction int

const (
	// FailureRetry reschedules the message per the retry policy.
	FailureRetry FailureAction = iota
	// FailureDead dead-letters the message immediately.
	FailureDead
)

// FailureClassifier decides whether a delivery failure is retryable.
type FailureClassifier func(ctx context.Context, msg Message, err error) FailureAction

func defaultFailureClassifier(context.Context, Message, error) FailureAction {
	return FailureRetry
}

// FailureHandler is called when message delivery returns an error.
type FailureHandler func(ctx context.Context, msg Message, err error)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 250 * time.Millisecond
	defaultMaxIdle      = 5 * time.Second
	defaultLeaseTTL     = 30 * time.Second
)

// RelayConfig defines how the Relay polls and delivers messages.
type RelayConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	MaxIdleInterval   time.Duration
	Retry             RetryPolicy
	SendTimeout       time.Duration
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	ErrorHandler      FailureHandler
	FailureClassifier FailureClassifier
	Leases            LeaseStore
	LeaseName         string
	LeaseTTL          time.Duration
}

func (c RelayConfig) withDefaults(provider string) RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxIdleInterval <= 0 {
		c.MaxIdleInterval = defaultMaxIdle
	}
	c.Retry = c.Retry.WithDefaults()
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}
	if c.LeaseName == "" {
		c.LeaseName = "coord:relay:" + provider
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}

	return c
}

// RelayOption configures Relay behavior.
type RelayOption func(*RelayConfig)

// WithBatchSize sets the number of messages delivered per poll.
func WithBatchSize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the base delay between empty polls.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PollInterval = interval
	}
}

// WithMaxIdleInterval caps the idle-poll backoff.
func WithMaxIdleInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.MaxIdleInterval = interval
	}
}

// WithRetryPolicy sets the redelivery policy.
func WithRetryPolicy(policy RetryPolicy) RelayOption {
	return func(c *RelayConfig) {
		c.Retry = policy
	}
}

// WithSendTimeout sets a per-message delivery timeout.
func WithSendTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.SendTimeout = timeout
	}
}

// WithClock sets the relay clock.
func WithClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the relay metrics recorder.
func WithMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}

// WithErrorHandler registers a callback for delivery failures.
func WithErrorHandler(handler FailureHandler) RelayOption {
	return func(c *RelayConfig) {
		c.ErrorHandler = handler
	}
}

// WithFailureClassifier sets the classifier for retry/dead-letter decisions.
func WithFailureClassifier(classifier FailureClassifier) RelayOption {
	return func(c *RelayConfig) {
		c.FailureClassifier = classifier
	}
}

// WithExclusiveLease guards the polling loop with a named lease so that at
// most one relay instance delivers for the provider at a time. An empty name
// defaults to "coord:relay:<provider>".
func WithExclusiveLease(leases LeaseStore, name string, ttl time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.Leases = leases
		c.LeaseName = name
		c.LeaseTTL = ttl
	}
}

// Relay polls an OutboxStore for due messages and drives delivery through a
// Sender, applying the retry policy on failure. One relay serves one
// provider; run one per provider, lease-guarded when instances compete.
type Relay struct {
	store    OutboxStore
	sender   Sender
	provider string
	owner    string
	cfg      RelayConfig
}

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(store OutboxStore, sender Sender, provider string, opts ...RelayOption) *Relay {
	if store == nil {
		panic("coord: nil OutboxStore")
	}
	if sender == nil {
		panic("coord: nil Sender")
	}
	if err := ValidateKey(provider); err != nil {
		panic("coord: invalid provider: " + err.Error())
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults(provider)

	return &Relay{
		store:    store,
		sender:   sender,
		provider: provider,
		owner:    NewOwnerToken(),
		cfg:      cfg,
	}
}

// Run starts the polling loop and blocks until the context is canceled or a
// store error occurs. Empty polls back off exponentially up to
// MaxIdleInterval; any delivered batch resets the backoff.
func (r *Relay) Run(ctx context.Context) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = r.cfg.PollInterval
	idle.MaxInterval = r.cfg.MaxIdleInterval
	idle.MaxElapsedTime = 0
	idle.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		held, err := r.ensureLease(ctx)
		if err != nil {
			return err
		}
		if !held {
			r.cfg.Logger.Debug("relay lease denied", "provider", r.provider, "lease", r.cfg.LeaseName)
			if err := r.sleep(ctx, idle.NextBackOff()); err != nil {
				return err
			}

			continue
		}

		processed, err := r.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		if processed {
			idle.Reset()

			continue
		}
		if err := r.sleep(ctx, idle.NextBackOff()); err != nil {
			return err
		}
	}
}

// ProcessOnce fetches and delivers a single batch of due messages. It
// reports whether any message transitioned state.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	msgs, err := r.store.LeaseDue(ctx, r.provider, r.cfg.BatchSize)
	if err != nil {
		return false, fmt.Errorf("coord: lease due failed: %w", err)
	}
	r.cfg.Metrics.SetDue(len(msgs))
	if len(msgs) == 0 {
		return false, nil
	}

	start := time.Now()
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	var sent, retried, dead int
	for i := range msgs {
		msg := msgs[i]
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		sendErr := r.send(ctx, msg)
		if sendErr == nil {
			if err := r.store.MarkSent(ctx, msg.ID); err != nil {
				return false, fmt.Errorf("coord: mark sent failed: %w", err)
			}
			sent++

			continue
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if r.cfg.ErrorHandler != nil {
			r.cfg.ErrorHandler(ctx, msg, sendErr)
		}

		failed := msg.AttemptCount + 1
		maxAttempts := r.cfg.Retry.MaxAttempts
		if r.cfg.FailureClassifier(ctx, msg, sendErr) == FailureDead {
			// Non-retryable: force exhaustion at the current attempt.
			maxAttempts = failed
		}
		nextDue := r.cfg.Clock.Now().Add(r.cfg.Retry.Delay(failed))
		if err := r.store.MarkFailed(ctx, msg.ID, TruncateReason(sendErr.Error()), maxAttempts, nextDue); err != nil {
			return false, fmt.Errorf("coord: mark failed update failed: %w", err)
		}
		if failed >= maxAttempts {
			dead++
		} else {
			retried++
		}
	}

	r.cfg.Metrics.AddSent(sent)
	r.cfg.Metrics.AddRetries(retried)
	r.cfg.Metrics.AddDead(dead)

	return true, nil
}

func (r *Relay) ensureLease(ctx context.Context) (bool, error) {
	if r.cfg.Leases == nil {
		return true, nil
	}

	// Acquire doubles as renew for the matching owner, so one call per poll
	// keeps the lease alive while it is held.
	res, err := r.cfg.Leases.Acquire(ctx, r.cfg.LeaseName, r.owner, r.cfg.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("coord: relay lease acquire failed: %w", err)
	}

	return res == Granted, nil
}

func (r *Relay) send(ctx context.Context, msg Message) (err error) {
	sendCtx := ctx
	cancel := func() {}
	if r.cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
	}
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Logger.Error("relay sender panic", "provider", r.provider, "id", msg.ID.String(), "panic", rec)
			err = fmt.Errorf("%w: %v", ErrSenderPanic, rec)
		}
	}()

	return r.sender.Send(sendCtx, msg)
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
