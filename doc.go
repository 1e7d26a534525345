// Package coord provides storage-backed coordination primitives for
// distributed, at-least-once processing pipelines.
//
// The primitives (an idempotency guard, a lease coordinator, an outbox,
// an inbox work store, and a fanout cursor tracker) share one assumption:
// a relational store that can apply a single conditional write atomically.
// Every state transition that matters for correctness (claim, complete,
// release, watermark advance) is exactly one such write; the affected-row
// count decides whether the caller won. Expired locks and leases are never
// swept by a background task; the next claimant's predicate reclaims them.
//
// Storage adapters live in the postgres, mysql, and memory subpackages.
// The Relay drives outbox delivery with retry and backoff; the
// RetentionMaintainer prunes terminal rows. Both take their exclusivity
// from the lease coordinator rather than from engine-specific locks.
package coord
