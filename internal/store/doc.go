// Package store provides SQLite-backed durable storage for event logs.
//
// The store keeps one row per run and an append-only table of telemetry
// records:
//   - Runs: one activation of a rulebook, with its document hash
//   - Records: every event-log record, keyed by (run_id, seq)
//   - Session stats: the latest SessionStats per ruleset of a run
//
// # Ordering
//
// All ordering uses the seq column, stamped by the event log's logical
// clock. Queries never order by wall-clock columns, so a trace reads the
// same way regardless of when it is inspected.
//
// # Idempotency
//
// Writes use ON CONFLICT so a record written twice (for example after a
// retried handler) is stored once.
//
// # Schema
//
// Open installs schema.sql into an empty database and records its version
// in PRAGMA user_version. A database with a newer version, or an
// unversioned file that already has tables, is refused with
// ErrSchemaVersion. Connections run in WAL mode with foreign keys on and a
// five second busy timeout.
package store
