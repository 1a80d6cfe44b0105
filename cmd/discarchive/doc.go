// Command discarchive inspects and controls the disc archive queue. It reads
// the same SQLite database as the daemon, so it works whether or not the
// daemon is running.
package main
