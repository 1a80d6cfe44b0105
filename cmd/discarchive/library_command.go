package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Browse archived titles",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived titles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			items, err := store.ListArchivedItems(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "Library is empty")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				year := "-"
				if item.Year > 0 {
					year = strconv.Itoa(item.Year)
				}
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.Title,
					year,
					orDash(item.Provider),
					formatBytes(item.FileSizeBytes),
					item.FilePath,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				rightCol("ID"), col("Title"), rightCol("Year"), col("Source"), rightCol("Size"), col("Path"),
			}, rows))
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show (0 for all)")

	libraryCmd.AddCommand(listCmd)
	return libraryCmd
}
