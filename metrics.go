package coord

import "time"

// Metrics captures delivery-loop telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to deliver a batch.
	ObserveBatchDuration(duration time.Duration)
	// AddSent increments the count of delivered messages.
	AddSent(count int)
	// AddRetries increments the count of messages rescheduled for retry.
	AddRetries(count int)
	// AddDead increments the count of dead-lettered messages.
	AddDead(count int)
	// SetDue updates the current due message count.
	SetDue(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// SetDue implements Metrics.
func (NopMetrics) SetDue(int) {}
