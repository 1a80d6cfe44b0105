package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"discarchive/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tools and writable directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			binaries := deps.CheckBinaries(deps.Requirements(cfg))
			dirs := deps.CheckDirectories(deps.Directories(cfg))
			printDeps(cmd, "Tools", binaries, colorize)
			fmt.Fprintln(out)
			printDeps(cmd, "Directories", dirs, colorize)

			if missing := deps.Missing(append(binaries, dirs...)); len(missing) > 0 {
				return fmt.Errorf("%d required dependencies unavailable", len(missing))
			}
			return nil
		},
	}
}

func printDeps(cmd *cobra.Command, title string, statuses []deps.Status, colorize bool) {
	out := cmd.OutOrStdout()
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
	for _, s := range statuses {
		kind, message := statusOK, s.Command
		if !s.Available {
			kind, message = statusError, s.Detail
			if s.Optional {
				kind = statusWarn
			}
		}
		fmt.Fprintln(out, renderStatusLine(s.Name, kind, message, colorize))
	}
}
