// Package transcode converts ripped titles into the archive format.
//
// Two engines are available: FFmpeg shells out to ffmpeg and parses its
// -progress stream, Drapto runs the drapto encoder in-process. New picks one
// from configuration.
package transcode
