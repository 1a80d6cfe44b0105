// Package daemonrun assembles the daemon process: logger, queue store,
// pipeline engines, job orchestrator, drive monitor, and signal handling.
package daemonrun
