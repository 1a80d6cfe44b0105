// Package toolparse decodes the line-oriented output of the external tools
// the pipeline drives: makemkvcon robot output and ffmpeg progress.
//
// Every parser is tolerant. Unknown lines are ignored and malformed fields
// decode to zero values so a noisy tool never aborts a job on its own.
package toolparse
