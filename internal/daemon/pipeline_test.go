package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/daemon"
	"discarchive/internal/delivery"
	"discarchive/internal/disc"
	"discarchive/internal/discmonitor"
	"discarchive/internal/jobqueue"
	"discarchive/internal/queue"
	"discarchive/internal/services/makemkv"
	"discarchive/internal/testsupport"
	"discarchive/internal/toolparse"
	"discarchive/internal/transcode"
	"discarchive/internal/workflow"
)

var errExit = errors.New("exit status 1")

// udfDrive answers the classifier's commands for a DVD that mounts as UDF
// and carries a VIDEO_TS directory.
type udfDrive struct {
	mu      sync.Mutex
	mounted bool
	label   string
}

func (d *udfDrive) Run(_ context.Context, binary string, args []string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch binary {
	case "mountpoint":
		if d.mounted {
			return nil, nil
		}
		return nil, errExit
	case "mount":
		if strings.Join(args[:4], " ") != "-o ro -t udf" {
			return nil, errExit
		}
		if err := os.MkdirAll(filepath.Join(args[len(args)-1], "VIDEO_TS"), 0o755); err != nil {
			return nil, err
		}
		d.mounted = true
		return nil, nil
	case "umount":
		d.mounted = false
		return nil, os.RemoveAll(filepath.Join(args[0], "VIDEO_TS"))
	case "blkid":
		return []byte(d.label + "\n"), nil
	case "blockdev":
		return []byte("7516192768\n"), nil
	}
	return nil, errExit
}

type stubExtractor struct{}

func (stubExtractor) MainTitle(context.Context, string) (toolparse.Title, error) {
	return toolparse.Title{Index: 0, DurationSeconds: 8160, SizeBytes: 7 << 30}, nil
}

func (stubExtractor) Rip(_ context.Context, _ string, _ int, destDir string, progress func(makemkv.ProgressUpdate)) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(destDir, "title_t00.mkv")
	if err := os.WriteFile(out, []byte("raw video"), 0o644); err != nil {
		return "", err
	}
	progress(makemkv.ProgressUpdate{Percent: 100})
	return out, nil
}

type stubEncoder struct{}

func (stubEncoder) Name() string      { return config.EngineFFmpeg }
func (stubEncoder) Container() string { return "mkv" }

func (stubEncoder) Transcode(_ context.Context, _, output string, progress func(transcode.Progress)) (string, error) {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(output, []byte("encoded video"), 0o644); err != nil {
		return "", err
	}
	progress(transcode.Progress{Percent: 100})
	return output, nil
}

func TestInsertedDVDIsArchived(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevice("/dev/sr0"))
	store := testsupport.MustOpenStore(t, cfg)
	discOK := func(string) disc.DriveStatus { return disc.DriveStatusDiscOK }

	dest, err := delivery.NewLocal(cfg.Destination.Local.Path, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch, err := workflow.New(cfg, workflow.Dependencies{
		Store:       store,
		Extractor:   stubExtractor{},
		Transcoder:  stubEncoder{},
		Destination: dest,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	classifier := disc.NewClassifier(cfg.Drive.MountRoot, nil, nil,
		disc.WithExecutor(&udfDrive{label: "THE_MATRIX"}), disc.WithStatusFunc(discOK))
	monitor := discmonitor.NewPollingMonitor(discmonitor.Options{
		Device:       cfg.Drive.Device,
		PollInterval: 50 * time.Millisecond,
		Probe:        discOK,
		Classifier:   classifier,
	})

	d, err := daemon.New(cfg, store, jobqueue.New(store, orch, cfg, nil), monitor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	var job *queue.Job
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := store.ListJobs(context.Background(), queue.StatusCompleted)
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) > 0 {
			job = jobs[0]
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if job == nil {
		all, _ := store.ListJobs(context.Background())
		t.Fatalf("no completed job; jobs: %#v", all)
	}
	if job.ProgressPercent != 100 || job.SourceLabel != "THE_MATRIX" || job.ResultEntryID == nil {
		t.Fatalf("unexpected job %#v", job)
	}

	all, err := store.ListJobs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("disc enqueued %d times", len(all))
	}
	item, err := store.GetArchivedItem(context.Background(), *job.ResultEntryID)
	if err != nil {
		t.Fatal(err)
	}
	root := cfg.Destination.Local.Path + string(os.PathSeparator)
	if !strings.HasPrefix(item.FilePath, root) {
		t.Fatalf("archived file %s outside %s", item.FilePath, root)
	}
	if _, err := os.Stat(item.FilePath); err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
}
