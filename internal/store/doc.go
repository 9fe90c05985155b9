// Package store provides SQLite-backed durable storage for endpoint
// telemetry sessions.
//
// The store implements an append-only log with:
//   - Sessions: monitoring/catalog runs (lifecycle: none -> active -> completed)
//   - Events: normalized telemetry rows, deduplicated on (host, sensor_record_id)
//   - Atomic tests: catalog entries linking a finished catalog session to
//     a normalized signature
//   - Normalized signatures, core-event patterns and whitelist entries:
//     the output of the catalog normalizer
//   - Similarity snapshots and alert history: the output of the
//     correlation engine and session classifier
//
// # Ordering
//
// Event reads are ordered by (sensor_time, capture_time) with insertion
// order (row id) as the final tie-break, per the store's read contract.
// sequence_number is a store-scoped monotonic counter primed from
// MAX(sequence_number) at Open time, used to give every insert a stable
// position independent of wall-clock time.
//
// # Idempotency
//
// insert_event treats (host, sensor_record_id) as a natural key: a
// duplicate insert succeeds as a no-op via ON CONFLICT DO NOTHING. This
// tolerates the sensor's at-least-once delivery without double-counting.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - schema migrations are additive only, gated on PRAGMA user_version
package store
