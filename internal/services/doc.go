// Package services defines shared utilities consumed by the pipeline steps and
// the external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, step names, task IDs, and correlation
//     identifiers for logging.
//   - The failure taxonomy (drive, extraction, transcode, metadata, delivery,
//     cancellation) plus the Wrap helper that tags errors with a marker so the
//     orchestrator can decide between retrying and failing a job.
//
// Subpackages wrap individual external tools (MakeMKV today).
package services
