// Package discmonitor watches an optical drive and reports each newly
// inserted video disc exactly once.
//
// Two monitors share one edge-triggered detector: PollingMonitor probes the
// drive on a fixed interval, and UdevMonitor re-probes on udev block events
// and falls back to polling when the netlink subscription fails.
package discmonitor
