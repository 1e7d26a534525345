// Package postgres implements coord.Store for PostgreSQL 12+.
//
// Every claim, completion, and watermark advance is one conditional
// statement: an INSERT ... ON CONFLICT upsert with a guarded DO UPDATE, or
// an UPDATE whose WHERE clause encodes the claim predicate. The affected-row
// count is the applied/not-applied signal; a losing caller classifies its
// outcome with a follow-up read that plays no part in correctness.
//
// Schema provisioning is idempotent and parameterized by schema and table
// names; see Schema and Provision.
package postgres
