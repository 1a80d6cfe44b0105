package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Jobs.RetentionDays
			}
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			purged, err := store.PurgeFinished(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d finished jobs older than %d days\n", purged, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Keep jobs finished within this many days (defaults to jobs.retention_days)")
	return cmd
}
