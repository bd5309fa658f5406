// Package store provides SQL-backed durable storage for the Kairon ledger.
//
// The ledger is an append-only log with three record kinds:
//   - Events: external stimuli, idempotent on (event_type, idempotency_key)
//   - Traces: reasoning-step records forming chains rooted at events
//   - Projections: derived facts with a pending/confirmed/voided lifecycle
//
// # Concurrency model
//
// The store itself is the only synchronization point between chain workers.
// Three primitives carry every coordination guarantee:
//
//   - Insert-or-ignore: event appends use ON CONFLICT DO NOTHING on the
//     idempotency pair, so re-delivery returns the existing row.
//   - Conditional update: projection voiding is a single-winner
//     UPDATE ... WHERE status != 'voided'; under N concurrent voids exactly
//     one write lands, the rest report a no-op.
//   - Ordered range reads: all list queries order by (received_at-or-
//     created_at, id) so results are deterministic across replays.
//
// # Backends
//
// SQLite (mattn/go-sqlite3) is the primary backend: WAL mode for concurrent
// reads, a single-writer connection pool, busy timeout, foreign keys on.
// Postgres is supported through the pgx stdlib driver with the same schema;
// queries are written with ? placeholders and rebound to $N for the postgres
// dialect.
//
// Timestamps persist as fixed-width UTC RFC 3339 text so lexicographic
// ordering matches time ordering on both backends.
package store
