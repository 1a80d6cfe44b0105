// Package jobqueue accepts disc jobs, dispatches them to workers, and routes
// revocations to the worker that owns the job.
//
// Jobs live in the queue store, so an enqueue survives a daemon restart and a
// cancellation issued from another process reaches the running job through
// the store's cancel flag.
package jobqueue
