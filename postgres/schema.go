package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const idempotencySchema = `CREATE TABLE IF NOT EXISTS %s (
	idempotency_key VARCHAR(200) NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	locked_until TIMESTAMPTZ NULL,
	locked_by VARCHAR(200) NULL,
	failure_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NULL,
	PRIMARY KEY (idempotency_key)
);`

const leaseSchema = `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(200) NOT NULL,
	owner VARCHAR(200) NULL,
	lease_until TIMESTAMPTZ NULL,
	last_granted TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (name)
);`

const outboxSchema = `CREATE TABLE IF NOT EXISTS %s (
	id BYTEA NOT NULL,
	provider_name VARCHAR(200) NOT NULL,
	message_key VARCHAR(200) NOT NULL,
	payload BYTEA NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL,
	due_time TIMESTAMPTZ NULL,
	attempt_count INT NOT NULL DEFAULT 0,
	status SMALLINT NOT NULL DEFAULT 0,
	failure_reason VARCHAR(1024) NULL,
	PRIMARY KEY (id),
	UNIQUE (provider_name, message_key)
);`

const outboxDueIndex = `CREATE INDEX IF NOT EXISTS idx_%s_due ON %s (provider_name, status, due_time, enqueued_at);`

const inboxSchema = `CREATE TABLE IF NOT EXISTS %s (
	unique_key VARCHAR(200) NOT NULL,
	payload BYTEA NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	attempt_count INT NOT NULL DEFAULT 0,
	claimed_by VARCHAR(200) NULL,
	claimed_until TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (unique_key)
);`

const cursorSchema = `CREATE TABLE IF NOT EXISTS %s (
	fanout_topic VARCHAR(200) NOT NULL,
	work_key VARCHAR(200) NOT NULL,
	shard_key VARCHAR(200) NOT NULL,
	last_completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (fanout_topic, work_key, shard_key)
);`

const auditSchema = `CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor VARCHAR(200) NOT NULL,
	action VARCHAR(200) NOT NULL,
	subject VARCHAR(200) NOT NULL,
	detail TEXT NULL,
	PRIMARY KEY (id)
);`

const operationSchema = `CREATE TABLE IF NOT EXISTS %s (
	operation_id VARCHAR(200) NOT NULL,
	status VARCHAR(32) NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	detail TEXT NULL,
	PRIMARY KEY (operation_id)
);`

// Schema returns the provisioning statements for the five primitive tables.
// Each statement is a no-op when its object already exists, so provisioning
// is safe to run concurrently from multiple instances at startup.
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

	var stmts []string
	if cfg.Schema != "" {
		name, err := sanitizeName(cfg.Schema)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", name))
	}

	stmts = append(stmts,
		fmt.Sprintf(idempotencySchema, t.idempotency),
		fmt.Sprintf(leaseSchema, t.lease),
		fmt.Sprintf(outboxSchema, t.outbox),
		fmt.Sprintf(outboxDueIndex, flatName(t.outbox), t.outbox),
		fmt.Sprintf(inboxSchema, t.inbox),
		fmt.Sprintf(cursorSchema, t.cursor),
	)

	return stmts, nil
}

// ControlPlaneSchema returns the optional audit-event and operation-tracking
// tables used by the surrounding control plane. They carry no coordination
// protocol; the migrate CLI bundles them on request.
func ControlPlaneSchema(opts ...Option) ([]string, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	audit, err := qualifyName(cfg.Schema, "audit_events")
	if err != nil {
		return nil, err
	}
	ops, err := qualifyName(cfg.Schema, "operations")
	if err != nil {
		return nil, err
	}

	var stmts []string
	if cfg.Schema != "" {
		name, err := sanitizeName(cfg.Schema)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", name))
	}
	stmts = append(stmts,
		fmt.Sprintf(auditSchema, audit),
		fmt.Sprintf(operationSchema, ops),
	)

	return stmts, nil
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
			return fmt.Errorf("coord postgres: provision failed: %w", err)
		}
	}

	return nil
}

func flatName(qualified string) string {
	return strings.ReplaceAll(qualified, ".", "_")
}
