// Package jobs is the boundary between the sync engine and durable
// background execution.
//
// The engine only sees the Dispatcher contract: EnqueueNow submits a payload
// for immediate asynchronous execution, OnJob registers the handler for a job
// name. Queue implements the contract on a local SQLite database:
//
//   - Jobs are rows; a payload is opaque bytes chosen by the producer.
//   - A bounded pool of workers (default 4) claims pending jobs one at a time.
//     SQLite runs with a single connection, so claims are serialized and a job
//     is never handed to two workers.
//   - Workers wake on local enqueues, on an optional Notifier (Redis pub/sub
//     across processes) and on a polling interval (default 10s).
//   - On start, jobs left "running" by a crashed process return to "pending",
//     giving at-least-once execution.
//   - A handler error marks the job "failed"; there is no automatic retry.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers from other processes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - schema version tracked in PRAGMA user_version
package jobs
