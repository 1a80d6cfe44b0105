// Package workflow runs one disc job through the archive pipeline.
//
// The Orchestrator owns a job while it executes: it counts and persists the
// attempt, gives the attempt a private scratch directory under the staging
// root, and advances the job through analyzing, ripping, transcoding,
// fetching_metadata, and archiving. Every status change and every whole
// percent of progress is written to the queue store so other processes can
// observe the run.
//
// Retryable failures put the job back in queued with a retry time and the
// orchestrator waits out the delay itself before the next attempt. A revoke
// ends the run as cancelled, and a daemon shutdown returns the job to queued
// without charging the interrupted attempt.
package workflow
