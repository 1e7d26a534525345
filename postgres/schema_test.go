package postgres

import (
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	stmts, err := Schema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(stmts) != 6 {
		t.Fatalf("expected 6 statements, got %d", len(stmts))
	}

	joined := strings.Join(stmts, "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS idempotency",
		"CREATE TABLE IF NOT EXISTS lease",
		"CREATE TABLE IF NOT EXISTS outbox",
		"CREATE TABLE IF NOT EXISTS inbox_work",
		"CREATE TABLE IF NOT EXISTS fanout_cursor",
		"UNIQUE (provider_name, message_key)",
		"CREATE INDEX IF NOT EXISTS idx_outbox_due",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected schema to contain %q", want)
		}
	}
}

func TestSchema_WithSchemaAndOverrides(t *testing.T) {
	stmts, err := Schema(WithSchema("coord"), WithTableNames(TableNames{Outbox: "messages"}))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	joined := strings.Join(stmts, "\n")
	if !strings.Contains(joined, "CREATE SCHEMA IF NOT EXISTS coord;") {
		t.Fatalf("expected schema creation statement")
	}
	if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS coord.messages") {
		t.Fatalf("expected override applied")
	}
	if !strings.Contains(joined, "idx_coord_messages_due") {
		t.Fatalf("expected index name derived from qualified table")
	}
}

func TestSchema_RejectsInvalidNames(t *testing.T) {
	if _, err := Schema(WithTableNames(TableNames{Outbox: "bad;name"})); err == nil {
		t.Fatalf("expected invalid table name rejected")
	}
	if _, err := Schema(WithSchema("bad schema")); err == nil {
		t.Fatalf("expected invalid schema rejected")
	}
}

func TestControlPlaneSchema(t *testing.T) {
	stmts, err := ControlPlaneSchema(WithSchema("coord"))
	if err != nil {
		t.Fatalf("control plane schema: %v", err)
	}

	joined := strings.Join(stmts, "\n")
	if !strings.Contains(joined, "coord.audit_events") {
		t.Fatalf("expected audit table")
	}
	if !strings.Contains(joined, "coord.operations") {
		t.Fatalf("expected operations table")
	}
}
