package postgres

import "github.com/velmie/coord"

// TableNames overrides the default table names. Empty fields keep the
// defaults.
type TableNames struct {
	Idempotency  string
	Lease        string
	Outbox       string
	InboxWork    string
	FanoutCursor string
}

func (t TableNames) withDefaults() TableNames {
	if t.Idempotency == "" {
		t.Idempotency = "idempotency"
	}
	if t.Lease == "" {
		t.Lease = "lease"
	}
	if t.Outbox == "" {
		t.Outbox = "outbox"
	}
	if t.InboxWork == "" {
		t.InboxWork = "inbox_work"
	}
	if t.FanoutCursor == "" {
		t.FanoutCursor = "fanout_cursor"
	}

	return t
}

// Config defines PostgreSQL store behavior.
type Config struct {
	// Schema optionally namespaces all tables.
	Schema string
	// Tables overrides individual table names.
	Tables TableNames
	// Clock overrides the time source.
	Clock coord.Clock
	// Generator assigns outbox message IDs.
	Generator coord.IDGenerator
}

func (c Config) withDefaults() Config {
	c.Tables = c.Tables.withDefaults()
	if c.Clock == nil {
		c.Clock = coord.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = coord.NewUUIDv7Generator(c.Clock)
	}

	return c
}

// Option configures the PostgreSQL store.
type Option func(*Config)

// WithSchema namespaces all tables under the given schema.
func WithSchema(schema string) Option {
	return func(c *Config) {
		c.Schema = schema
	}
}

// WithTableNames overrides table names.
func WithTableNames(tables TableNames) Option {
	return func(c *Config) {
		c.Tables = tables
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock coord.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the outbox message ID generator.
func WithGenerator(gen coord.IDGenerator) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}
