package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/disc"
)

func newDriveCommand(ctx *commandContext) *cobra.Command {
	driveCmd := &cobra.Command{
		Use:   "drive",
		Short: "Optical drive utilities",
	}

	var device string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report the tray state of the drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(device) == "" {
				device = cfg.Drive.Device
			}
			out := cmd.OutOrStdout()
			status, err := disc.CheckStatus(device)
			kind := statusInfo
			message := status.String()
			switch {
			case err != nil:
				kind, message = statusError, err.Error()
			case status == disc.DriveStatusDiscOK:
				kind = statusOK
			case status == disc.DriveStatusNotReady || status == disc.DriveStatusTrayOpen:
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine(device, kind, message, shouldColorize(out)))
			return nil
		},
	}
	statusCmd.Flags().StringVarP(&device, "device", "d", "", "Optical drive device (defaults to drive.device)")

	driveCmd.AddCommand(statusCmd)
	return driveCmd
}
