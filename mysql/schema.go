package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

const idempotencySchema = `CREATE TABLE IF NOT EXISTS %s (
	idempotency_key VARCHAR(200) NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	locked_until DATETIME(6) NULL,
	locked_by VARCHAR(200) NULL,
	failure_count INT NOT NULL DEFAULT 0,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	completed_at DATETIME(6) NULL,
	PRIMARY KEY (idempotency_key)
);`

const leaseSchema = `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(200) NOT NULL,
	owner VARCHAR(200) NULL,
	lease_until DATETIME(6) NULL,
	last_granted DATETIME(6) NOT NULL,
	PRIMARY KEY (name)
);`

const outboxSchema = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	provider_name VARCHAR(200) NOT NULL,
	message_key VARCHAR(200) NOT NULL,
	payload LONGBLOB NOT NULL,
	enqueued_at DATETIME(6) NOT NULL,
	due_time DATETIME(6) NULL,
	attempt_count INT NOT NULL DEFAULT 0,
	status SMALLINT NOT NULL DEFAULT 0,
	failure_reason VARCHAR(1024) NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_provider_message (provider_name, message_key),
	KEY idx_due (provider_name, status, due_time, enqueued_at)
);`

const inboxSchema = `CREATE TABLE IF NOT EXISTS %s (
	unique_key VARCHAR(200) NOT NULL,
	payload LONGBLOB NOT NULL,
	received_at DATETIME(6) NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	attempt_count INT NOT NULL DEFAULT 0,
	claimed_by VARCHAR(200) NULL,
	claimed_until DATETIME(6) NULL,
	updated_at DATETIME(6) NOT NULL,
	PRIMARY KEY (unique_key)
);`

const cursorSchema = `CREATE TABLE IF NOT EXISTS %s (
	fanout_topic VARCHAR(200) NOT NULL,
	work_key VARCHAR(200) NOT NULL,
	shard_key VARCHAR(200) NOT NULL,
	last_completed_at DATETIME(6) NOT NULL,
	PRIMARY KEY (fanout_topic, work_key, shard_key)
);`

const auditSchema = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	occurred_at DATETIME(6) NOT NULL,
	actor VARCHAR(200) NOT NULL,
	action VARCHAR(200) NOT NULL,
	subject VARCHAR(200) NOT NULL,
	detail TEXT NULL,
	PRIMARY KEY (id)
);`

const operationSchema = `CREATE TABLE IF NOT EXISTS %s (
	operation_id VARCHAR(200) NOT NULL,
	status VARCHAR(32) NOT NULL,
	started_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	detail TEXT NULL,
	PRIMARY KEY (operation_id)
);`

// Schema returns the provisioning statements for the five primitive tables.
// MySQL has no IF NOT EXISTS form for CREATE INDEX, so the outbox due index
// is declared inline with the table. Each statement is a no-op when its
// object already exists.
func Schema(opts ...Option) ([]string, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	t, err := resolveTables(cfg)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(idempotencySchema, t.idempotency),
		fmt.Sprintf(leaseSchema, t.lease),
		fmt.Sprintf(outboxSchema, t.outbox),
		fmt.Sprintf(inboxSchema, t.inbox),
		fmt.Sprintf(cursorSchema, t.cursor),
	}, nil
}

// ControlPlaneSchema returns the optional audit-event and operation-tracking
// tables used by the surrounding control plane. They carry no coordination
// protocol; the migrate CLI bundles them on request.
func ControlPlaneSchema(opts ...Option) ([]string, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	audit, err := qualifyName(cfg.Database, "audit_events")
	if err != nil {
		return nil, err
	}
	ops, err := qualifyName(cfg.Database, "operations")
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(auditSchema, audit),
		fmt.Sprintf(operationSchema, ops),
	}, nil
}

// Provision applies the primitive schema against the database.
func Provision(ctx context.Context, db *sql.DB, opts ...Option) error {
	if db == nil {
		return ErrDBRequired
	}

	stmts, err := Schema(opts...)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("coord mysql: provision failed: %w", err)
		}
	}

	return nil
}
