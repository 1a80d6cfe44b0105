// Package queue persists jobs and archived library items in SQLite and
// exposes helpers for driving the job lifecycle.
//
// The Store manages database connections, goose migrations, claim and
// heartbeat tracking, interrupted-job recovery, cancellation requests, and
// retention sweeps. Job carries the status machine: a linear pipeline from
// queued to completed with error and cancelled as the only escapes.
//
// Treat this package as the single source of truth for job semantics; when a
// column is added, add a new migration under migrations/.
package queue
