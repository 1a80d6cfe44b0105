package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"discarchive/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running and queue totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			running, err := daemonRunning(cfg.LockPath())
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, err.Error(), colorize))
			case running:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, store.Path(), colorize))

			order := append([]queue.Status{queue.StatusQueued}, queue.InFlightStatuses...)
			order = append(order, queue.StatusCompleted, queue.StatusError, queue.StatusCancelled)
			for _, status := range order {
				if n := stats[status]; n > 0 {
					fmt.Fprintln(out, renderStatusLine(status.Label(), jobStatusKind(status), fmt.Sprintf("%d", n), colorize))
				}
			}
			return nil
		},
	}
}

// daemonRunning probes the daemon lock. A lock we can take means no daemon
// holds it.
func daemonRunning(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}
