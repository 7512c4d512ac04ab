// Package ledger persists attendance facts and the reference data they point at.
//
// The Store is the only writer of attendance records. Each record is keyed by
// (event, participant, slot) and moves from absent to present exactly once;
// RecordAttendance is a single conditional upsert so concurrent stations that
// scan the same participant resolve to one Recorded outcome and any number of
// AlreadyPresent outcomes. Every write bumps a per-model version counter in the
// same transaction, which the poller compares instead of hashing snapshots.
//
// SQLite (modernc.org/sqlite) is the default backend; Postgres through the pgx
// stdlib driver shares the same SQL. Storage failures surface as *StorageError.
package ledger
