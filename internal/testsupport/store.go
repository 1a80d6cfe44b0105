package testsupport

import (
	"context"
	"testing"

	"discarchive/internal/config"
	"discarchive/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob inserts a queued job for the given device.
func NewJob(t testing.TB, store *queue.Store, device, label string) *queue.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), queue.NewJob{DevicePath: device, SourceLabel: label})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
