package coord

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultPruneLimit     = 10000
	defaultPruneEvery     = time.Hour
	defaultPruneLeaseName = "coord:retention"
	defaultPruneLeaseTTL  = 5 * time.Minute
)

// RetentionConfig controls periodic pruning of terminal outbox and inbox rows.
type RetentionConfig struct {
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between prune runs.
	CheckEvery time.Duration
	// Limit caps the rows deleted per table per run (0 uses the default).
	Limit int
	// LeaseName guards concurrent maintainers. Defaults to coord:retention.
	LeaseName string
	// LeaseTTL bounds one prune run.
	LeaseTTL time.Duration
	// Clock overrides the time source (useful for tests).
	Clock Clock
	// Logger receives warnings about prune failures.
	Logger Logger
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.CheckEvery <= 0 {
		c.CheckEvery = defaultPruneEvery
	}
	if c.Limit <= 0 {
		c.Limit = defaultPruneLimit
	}
	if c.LeaseName == "" {
		c.LeaseName = defaultPruneLeaseName
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultPruneLeaseTTL
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// RetentionResult reports how many rows one run removed.
type RetentionResult struct {
	Outbox int64
	Inbox  int64
}

// RetentionMaintainer periodically deletes Sent/Failed messages and
// Done/Dead work items older than the retention cutoff. Multiple instances
// may run it; the lease coordinator lets only one prune at a time.
type RetentionMaintainer struct {
	pruner Pruner
	leases LeaseStore
	owner  string
	cfg    RetentionConfig
}

// NewRetentionMaintainer constructs a maintainer. leases may be nil for
// single-instance deployments; pruning then runs unguarded.
func NewRetentionMaintainer(pruner Pruner, leases LeaseStore, cfg RetentionConfig) (*RetentionMaintainer, error) {
	if pruner == nil {
		return nil, ErrPrunerRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrRetentionInvalid
	}

	return &RetentionMaintainer{
		pruner: pruner,
		leases: leases,
		owner:  NewOwnerToken(),
		cfg:    cfg.withDefaults(),
	}, nil
}

// RunOnce performs a single prune run. A denied lease returns a zero result
// with no error: another instance is pruning.
func (m *RetentionMaintainer) RunOnce(ctx context.Context) (RetentionResult, error) {
	var result RetentionResult

	if m.leases != nil {
		res, err := m.leases.Acquire(ctx, m.cfg.LeaseName, m.owner, m.cfg.LeaseTTL)
		if err != nil {
			return result, fmt.Errorf("coord: retention lease acquire failed: %w", err)
		}
		if res != Granted {
			return result, nil
		}
		defer func() {
			if err := m.leases.Release(ctx, m.cfg.LeaseName, m.owner); err != nil {
				m.cfg.Logger.Warn("retention lease release failed", "err", err)
			}
		}()
	}

	cutoff := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	outboxN, err := m.pruner.PruneOutbox(ctx, cutoff, m.cfg.Limit)
	if err != nil {
		return result, fmt.Errorf("coord: prune outbox failed: %w", err)
	}
	result.Outbox = outboxN

	inboxN, err := m.pruner.PruneInbox(ctx, cutoff, m.cfg.Limit)
	if err != nil {
		return result, fmt.Errorf("coord: prune inbox failed: %w", err)
	}
	result.Inbox = inboxN

	return result, nil
}

// Run prunes on the configured interval until the context is canceled.
// Prune failures are logged and do not stop the loop.
func (m *RetentionMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		result, err := m.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			m.cfg.Logger.Warn("retention run failed", "err", err)
		case result.Outbox+result.Inbox > 0:
			m.cfg.Logger.Info("retention pruned rows", "outbox", result.Outbox, "inbox", result.Inbox)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
