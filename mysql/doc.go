// Package mysql implements coord.Store for MySQL 8.0+.
//
// Claims that PostgreSQL expresses as a guarded upsert are split here into a
// conditional UPDATE followed by an INSERT IGNORE for the row-not-yet-seen
// case; each statement is individually atomic and only one of them can apply,
// so the claim protocol is unchanged. Attempt-count transitions use a
// self-join so the CASE predicate sees the pre-update counter.
//
// Connections must be opened with parseTime=true and clientFoundRows=true:
// the store reads matched rows, not changed rows, to decide whether a
// conditional write applied.
package mysql
