// Package store persists the engine's lifecycle log in SQLite.
//
// Two tables make up the log:
//   - instances: one row per execution instance, upserted on every status
//     change with a canonical JSON snapshot of the instance data
//   - events: the lifecycle events, keyed by their logical sequence number
//
// Events are ordered by seq only, never by wall-clock time, so a trace read
// back from the store has the exact order the engine produced. Writes are
// idempotent: appending an event whose seq is already stored is a no-op.
//
// A *Store is an engine.Sink; pass it to engine.WithSink.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Events must belong to a recorded instance
package store
