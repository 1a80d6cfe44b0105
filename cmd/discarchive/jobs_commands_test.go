package main

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/testsupport"
)

func TestEnqueueAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"enqueue", "--device", "/dev/sr1", "--label", "THE_MATRIX"}, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued /dev/sr1 as task ")

	jobs, err := env.store.ListJobs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].SourceLabel != "THE_MATRIX" || jobs[0].ManualMetadataJSON != "" {
		t.Fatalf("unexpected jobs %#v", jobs)
	}
	requireContains(t, out, jobs[0].TaskID)

	out, _, err = runCLI(t, []string{"jobs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "THE_MATRIX")
	requireContains(t, out, "queued")
	requireContains(t, out, jobs[0].TaskID[:8])

	out, _, err = runCLI(t, []string{"jobs", "list", "--status", "completed,error"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list filtered: %v", err)
	}
	requireContains(t, out, "No jobs")

	if _, _, err := runCLI(t, []string{"jobs", "list", "--status", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestEnqueueWithManualTitle(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"enqueue", "--year", "1999"}, env.configPath); err == nil {
		t.Fatal("expected --year without --title to fail")
	}
	if _, _, err := runCLI(t, []string{"enqueue", "--title", "Heat", "--year", "1995"}, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := env.store.ListJobs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].DevicePath != env.cfg.Drive.Device {
		t.Fatalf("device = %q, want configured %q", jobs[0].DevicePath, env.cfg.Drive.Device)
	}
	requireContains(t, jobs[0].ManualMetadataJSON, `"Heat"`)
	requireContains(t, jobs[0].ManualMetadataJSON, "1995")
}

func TestJobsShowAndCancel(t *testing.T) {
	env := setupCLITestEnv(t)
	job := testsupport.NewJob(t, env.store, "/dev/sr0", "ALIEN")
	id := strconv.FormatInt(job.ID, 10)

	out, _, err := runCLI(t, []string{"jobs", "show", id}, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "Job "+id)
	requireContains(t, out, "ALIEN")

	out, _, err = runCLI(t, []string{"jobs", "cancel", id}, env.configPath)
	if err != nil {
		t.Fatalf("jobs cancel: %v", err)
	}
	requireContains(t, out, "Cancellation requested")

	got, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	_, _, err = runCLI(t, []string{"jobs", "cancel", id}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Fatalf("expected already finished error, got %v", err)
	}
	_, _, err = runCLI(t, []string{"jobs", "show", "no-such-task"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCancelByTaskIDFlagsRunningJob(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	job, err := env.store.CreateJob(ctx, queue.NewJob{TaskID: "task-running", DevicePath: "/dev/sr0"})
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := env.store.ClaimNextQueued(ctx, time.Now())
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	if _, _, err := runCLI(t, []string{"jobs", "cancel", "task-running"}, env.configPath); err != nil {
		t.Fatalf("jobs cancel: %v", err)
	}
	requested, err := env.store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !requested {
		t.Fatal("claimed job should carry a cancel request for its worker")
	}
}

func TestLibraryListAndPurge(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	out, _, err := runCLI(t, []string{"library", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("library list: %v", err)
	}
	requireContains(t, out, "Library is empty")

	job := testsupport.NewJob(t, env.store, "/dev/sr0", "HEAT")
	for _, status := range []queue.Status{queue.StatusAnalyzing, queue.StatusRipping, queue.StatusTranscoding, queue.StatusArchiving} {
		if err := job.Transition(status); err != nil {
			t.Fatal(err)
		}
	}
	record := metadata.Record{Provider: "tmdb", ID: "949", Title: "Heat", Year: 1995}
	item := &queue.ArchivedItem{
		Title:         record.Title,
		Year:          record.Year,
		Provider:      record.Provider,
		ProviderID:    record.ID,
		FilePath:      "/archive/Heat (1995)/Heat.mp4",
		FileSizeBytes: 3 << 30,
		Container:     "mp4",
	}
	if err := env.store.CompleteJob(ctx, job, item); err != nil {
		t.Fatal(err)
	}

	out, _, err = runCLI(t, []string{"library", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("library list: %v", err)
	}
	requireContains(t, out, "Heat")
	requireContains(t, out, "1995")
	requireContains(t, out, "3.0 GiB")

	out, _, err = runCLI(t, []string{"purge", "--days", "0"}, env.configPath)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Purged 1 finished jobs")

	items, err := env.store.ListArchivedItems(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("archived items must survive a purge, got %d", len(items))
	}
}
