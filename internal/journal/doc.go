// Package journal persists queued offline mutations so they survive process
// restarts. Each entry records one mutation against a logical table - the
// payload, the resource key used for coordination, a logical sequence number,
// and retry bookkeeping (status, attempts, last error).
//
// SQLite in WAL mode backs the journal. Writes are idempotent (ON CONFLICT
// DO NOTHING keyed by entry id) and reads are deterministically ordered
// (seq ASC, id COLLATE BINARY ASC), so a drain pass replays entries in the
// order they were queued no matter how often it is interrupted.
package journal
