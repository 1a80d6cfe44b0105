package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"discarchive/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"queue"},
		Short:   "Inspect and cancel archive jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			jobs, err := store.ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					shortTaskID(job.TaskID),
					job.DevicePath,
					orDash(job.SourceLabel),
					paint(statusKindColor(jobStatusKind(job.Status)), string(job.Status), colorize),
					formatPercent(job.ProgressPercent),
					strconv.Itoa(job.Attempts),
					formatAge(&job.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				rightCol("ID"), col("Task"), col("Device"), col("Label"), col("Status"),
				rightCol("Progress"), rightCol("Attempts"), col("Updated"),
			}, rows))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Only list jobs in these statuses (repeatable)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|task-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			job, err := lookupJob(cmd, store, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader(fmt.Sprintf("Job %d", job.ID), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "Task:       %s\n", job.TaskID)
			fmt.Fprintf(out, "Device:     %s\n", job.DevicePath)
			fmt.Fprintf(out, "Label:      %s\n", orDash(job.SourceLabel))
			fmt.Fprintf(out, "Status:     %s\n", paint(statusKindColor(jobStatusKind(job.Status)), string(job.Status), colorize))
			fmt.Fprintf(out, "Step:       %s\n", orDash(job.CurrentStep))
			fmt.Fprintf(out, "Progress:   %s %s\n", formatPercent(job.ProgressPercent), job.StepDetail)
			fmt.Fprintf(out, "Attempts:   %d\n", job.Attempts)
			fmt.Fprintf(out, "Cancel:     %s\n", yesNo(job.CancelRequested))
			fmt.Fprintf(out, "Created:    %s\n", formatAge(&job.CreatedAt))
			fmt.Fprintf(out, "Started:    %s\n", formatAge(job.StartedAt))
			fmt.Fprintf(out, "Finished:   %s\n", formatAge(job.CompletedAt))
			if job.RetryAt != nil && !job.Status.IsTerminal() {
				fmt.Fprintf(out, "Retry:      %s\n", formatAge(job.RetryAt))
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s (%s)\n", job.ErrorMessage, orDash(job.ErrorKind))
			}
			if job.ResultEntryID != nil {
				item, err := store.GetArchivedItem(cmd.Context(), *job.ResultEntryID)
				if err == nil {
					fmt.Fprintf(out, "Archived:   %s (%s)\n", item.FilePath, formatBytes(item.FileSizeBytes))
				}
			}
			return nil
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id|task-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := ctx.jobQueue()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(args[0])
			if id, parseErr := strconv.ParseInt(target, 10, 64); parseErr == nil {
				err = jobs.RevokeJob(cmd.Context(), id)
			} else {
				err = jobs.Revoke(cmd.Context(), target)
			}
			switch {
			case errors.Is(err, queue.ErrJobTerminal):
				return fmt.Errorf("job %s has already finished", target)
			case errors.Is(err, queue.ErrNotFound):
				return fmt.Errorf("job %s not found", target)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", target)
			return nil
		},
	}
}

func lookupJob(cmd *cobra.Command, store *queue.Store, ref string) (*queue.Job, error) {
	ref = strings.TrimSpace(ref)
	var (
		job *queue.Job
		err error
	)
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		job, err = store.GetJob(cmd.Context(), id)
	} else {
		job, err = store.GetJobByTaskID(cmd.Context(), ref)
	}
	if errors.Is(err, queue.ErrNotFound) {
		return nil, fmt.Errorf("job %s not found", ref)
	}
	return job, err
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func shortTaskID(taskID string) string {
	if len(taskID) > 8 {
		return taskID[:8]
	}
	return orDash(taskID)
}
