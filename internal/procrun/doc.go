// Package procrun launches external tools in their own process group,
// streams their output line by line, and tears the whole group down when
// the caller's context ends.
package procrun
