package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/jobqueue"
	"discarchive/internal/metadata"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var device, label, title string
	var year int

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue the disc in a drive for archiving",
		Long: "Queue the disc in a drive for archiving. With --title the metadata " +
			"lookup is skipped and the archive is named from the given title and year.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(device) == "" {
				device = cfg.Drive.Device
			}
			spec := jobqueue.Spec{DevicePath: device, SourceLabel: label}
			if t := strings.TrimSpace(title); t != "" {
				spec.ManualMetadata = &metadata.Record{Provider: "manual", Title: t, Year: year}
			} else if year != 0 {
				return fmt.Errorf("--year requires --title")
			}

			jobs, err := ctx.jobQueue()
			if err != nil {
				return err
			}
			taskID, err := jobs.Enqueue(cmd.Context(), spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as task %s\n", strings.TrimSpace(device), taskID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "Optical drive device (defaults to drive.device)")
	cmd.Flags().StringVarP(&label, "label", "l", "", "Disc volume label")
	cmd.Flags().StringVar(&title, "title", "", "Archive under this title instead of looking it up")
	cmd.Flags().IntVar(&year, "year", 0, "Release year to use with --title")
	return cmd
}
