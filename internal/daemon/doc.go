// Package daemon hosts the long-running disc archive service.
//
// A Daemon holds the single-instance lock, requeues jobs interrupted by a
// previous run, starts the job queue workers, turns drive monitor callbacks
// into queued jobs, and periodically purges finished jobs past the retention
// window. Stop is idempotent.
package daemon
