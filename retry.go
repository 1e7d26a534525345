package coord

import "time"

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 5 * time.Minute
	defaultMultiplier   = 2.0
)

// RetryPolicy controls outbox redelivery spacing and exhaustion. The curve
// is deliberately configuration, not a constant: exhaustion behavior is a
// contract point between the enqueuing side and whoever watches the
// dead-letter state.
type RetryPolicy struct {
	// MaxAttempts is the delivery attempt budget before dead-lettering.
	MaxAttempts int
	// InitialDelay spaces the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
}

// WithDefaults fills unset fields.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}

	return p
}

// Delay returns the backoff before the next attempt, given how many attempts
// have already failed (1 after the first failure).
func (p RetryPolicy) Delay(failedAttempts int) time.Duration {
	if failedAttempts < 1 {
		failedAttempts = 1
	}

	delay := float64(p.InitialDelay)
	for i := 1; i < failedAttempts; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}
