package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"discarchive/internal/daemon"
	"discarchive/internal/disc"
	"discarchive/internal/discmonitor"
	"discarchive/internal/jobqueue"
	"discarchive/internal/queue"
	"discarchive/internal/testsupport"
)

type fakeMonitor struct {
	mu       sync.Mutex
	cb       discmonitor.Callback
	started  int
	stopped  int
	startErr error
}

func (m *fakeMonitor) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return m.startErr
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	m.stopped++
	m.mu.Unlock()
}

func (m *fakeMonitor) OnDiscDetected(cb discmonitor.Callback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

func (m *fakeMonitor) fire(ctx context.Context, info disc.Info) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	cb(ctx, info)
}

type parkedRunner struct {
	started chan int64
}

func (r *parkedRunner) Run(ctx context.Context, jobID int64) error {
	r.started <- jobID
	<-ctx.Done()
	return context.Cause(ctx)
}

func TestDaemonEnqueuesDetectedVideoDiscOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := &parkedRunner{started: make(chan int64, 4)}
	monitor := &fakeMonitor{}
	d, err := daemon.New(cfg, store, jobqueue.New(store, runner, cfg, nil), monitor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	ctx := context.Background()
	monitor.fire(ctx, disc.Info{Device: "/dev/sr0", Label: "DATA_BACKUP", IsVideo: false})
	monitor.fire(ctx, disc.Info{Device: "/dev/sr0", Label: "THE_MATRIX", IsVideo: true, Kind: disc.KindDVD})
	monitor.fire(ctx, disc.Info{Device: "/dev/sr0", Label: "THE_MATRIX", IsVideo: true, Kind: disc.KindDVD})

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].SourceLabel != "THE_MATRIX" || jobs[0].TaskID == "" {
		t.Fatalf("unexpected jobs %#v", jobs)
	}
	select {
	case id := <-runner.started:
		if id != jobs[0].ID {
			t.Fatalf("runner got job %d, want %d", id, jobs[0].ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not dispatched")
	}
}

func TestDaemonIsSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := &parkedRunner{started: make(chan int64, 1)}

	first, err := daemon.New(cfg, store, jobqueue.New(store, runner, cfg, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := daemon.New(cfg, store, jobqueue.New(store, runner, cfg, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	first.Stop()
	first.Stop()
	if first.Running() {
		t.Fatal("daemon still running after Stop")
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("lock should be free after Stop: %v", err)
	}
	second.Stop()
}

func TestDaemonRequeuesInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "/dev/sr0", "ALIEN")
	job.Attempts = 1
	if err := job.Transition(queue.StatusAnalyzing); err != nil {
		t.Fatal(err)
	}
	if err := job.Transition(queue.StatusRipping); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	runner := &parkedRunner{started: make(chan int64, 1)}
	monitor := &fakeMonitor{startErr: errors.New("no drive")}
	d, err := daemon.New(cfg, store, jobqueue.New(store, runner, cfg, nil), monitor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("monitor failure must not stop the daemon: %v", err)
	}
	defer d.Stop()

	select {
	case id := <-runner.started:
		if id != job.ID {
			t.Fatalf("runner got job %d, want %d", id, job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted job was not resumed")
	}
	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusQueued || got.Attempts != 1 {
		t.Fatalf("requeued job = %s attempts=%d", got.Status, got.Attempts)
	}

	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Jobs[queue.StatusQueued] != 1 || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestDaemonStartRemovesOrphanedScratch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	orphan := filepath.Join(cfg.Paths.StagingDir, "job-9-123456", "rip")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatal(err)
	}

	runner := &parkedRunner{started: make(chan int64, 1)}
	d, err := daemon.New(cfg, store, jobqueue.New(store, runner, cfg, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if _, err := os.Stat(filepath.Dir(orphan)); !os.IsNotExist(err) {
		t.Fatalf("orphaned scratch should be removed, stat err=%v", err)
	}
}
