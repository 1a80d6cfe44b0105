package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/delivery"
	"discarchive/internal/disc"
	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/services"
	"discarchive/internal/services/makemkv"
	"discarchive/internal/testsupport"
	"discarchive/internal/toolparse"
	"discarchive/internal/transcode"
	"discarchive/internal/workflow"
)

var errRevoked = fmt.Errorf("%w: revoked", services.ErrCancelled)

type fakeExtractor struct {
	mu       sync.Mutex
	titleErr error
	ripErrs  []error
	ripDirs  []string
	observe  func()
}

func (f *fakeExtractor) MainTitle(context.Context, string) (toolparse.Title, error) {
	if f.observe != nil {
		f.observe()
	}
	if f.titleErr != nil {
		return toolparse.Title{}, f.titleErr
	}
	return toolparse.Title{Index: 2, DurationSeconds: 7200, SizeBytes: 4 << 30}, nil
}

func (f *fakeExtractor) Rip(_ context.Context, _ string, titleIndex int, destDir string, progress func(makemkv.ProgressUpdate)) (string, error) {
	if f.observe != nil {
		f.observe()
	}
	f.mu.Lock()
	call := len(f.ripDirs)
	f.ripDirs = append(f.ripDirs, destDir)
	f.mu.Unlock()
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	progress(makemkv.ProgressUpdate{Percent: 50, Message: "Saving to MKV file"})
	if call < len(f.ripErrs) && f.ripErrs[call] != nil {
		return "", f.ripErrs[call]
	}
	out := filepath.Join(destDir, fmt.Sprintf("title_t%02d.mkv", titleIndex))
	if err := os.WriteFile(out, []byte("raw video"), 0o644); err != nil {
		return "", err
	}
	progress(makemkv.ProgressUpdate{Percent: 100})
	return out, nil
}

func (f *fakeExtractor) rips() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ripDirs...)
}

type fakeTranscoder struct {
	started chan struct{}
	block   bool
	observe func()
}

func (f *fakeTranscoder) Name() string      { return config.EngineFFmpeg }
func (f *fakeTranscoder) Container() string { return "mp4" }

func (f *fakeTranscoder) Transcode(ctx context.Context, _, output string, progress func(transcode.Progress)) (string, error) {
	if f.observe != nil {
		f.observe()
	}
	if f.started != nil {
		close(f.started)
	}
	if f.block {
		<-ctx.Done()
		return "", context.Cause(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}
	progress(transcode.Progress{Percent: 40})
	if err := os.WriteFile(output, []byte("encoded video"), 0o644); err != nil {
		return "", err
	}
	progress(transcode.Progress{Percent: 100})
	return output, nil
}

type fakeMetadata struct {
	mu         sync.Mutex
	candidates []metadata.Candidate
	record     *metadata.Record
	searchErr  error
	searches   []string
	observe    func()
}

func (f *fakeMetadata) Search(_ context.Context, title string, _ int) ([]metadata.Candidate, error) {
	if f.observe != nil {
		f.observe()
	}
	f.mu.Lock()
	f.searches = append(f.searches, title)
	f.mu.Unlock()
	return f.candidates, f.searchErr
}

func (f *fakeMetadata) Details(_ context.Context, provider, id string) (*metadata.Record, error) {
	if f.record == nil {
		return nil, fmt.Errorf("%w: %s/%s", services.ErrMetadataUnavailable, provider, id)
	}
	return f.record, nil
}

type fakeEjector struct {
	mu      sync.Mutex
	devices []string
}

func (f *fakeEjector) Eject(_ context.Context, device string) error {
	f.mu.Lock()
	f.devices = append(f.devices, device)
	f.mu.Unlock()
	return nil
}

// recordingDestination samples the job before delegating delivery.
type recordingDestination struct {
	delivery.Destination
	observe func()
}

func (d recordingDestination) Deliver(ctx context.Context, source string, record *metadata.Record) (delivery.Result, error) {
	d.observe()
	return d.Destination.Deliver(ctx, source, record)
}

type stepSample struct {
	status   queue.Status
	progress float64
}

// stepRecorder captures the persisted status and progress each time a
// collaborator is entered. Repeated calls within one step collapse.
type stepRecorder struct {
	t     *testing.T
	store *queue.Store
	jobID int64

	mu      sync.Mutex
	samples []stepSample
}

func (r *stepRecorder) sample() {
	job, err := r.store.GetJob(context.Background(), r.jobID)
	if err != nil {
		r.t.Errorf("sample job: %v", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.samples); n > 0 && r.samples[n-1].status == job.Status {
		return
	}
	r.samples = append(r.samples, stepSample{status: job.Status, progress: job.ProgressPercent})
}

type harness struct {
	cfg       *config.Config
	store     *queue.Store
	extractor *fakeExtractor
	encoder   *fakeTranscoder
	meta      *fakeMetadata
	ejector   *fakeEjector
	orch      *workflow.Orchestrator
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Jobs.EjectOnSuccess = true
	h := &harness{
		cfg:       cfg,
		store:     testsupport.MustOpenStore(t, cfg),
		extractor: &fakeExtractor{},
		encoder:   &fakeTranscoder{},
		meta: &fakeMetadata{
			candidates: []metadata.Candidate{{Provider: "tmdb", ID: "603", Title: "The Matrix", Year: 1999}},
			record: &metadata.Record{
				Provider: "tmdb", ID: "603", ImdbID: "tt0133093", Title: "The Matrix", Year: 1999,
				Cast: []string{"Keanu Reeves"}, Genres: []string{"Action"}, RuntimeMinutes: 136,
			},
		},
		ejector: &fakeEjector{},
	}
	dest, err := delivery.NewLocal(cfg.Destination.Local.Path, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.orch, err = workflow.New(cfg, workflow.Dependencies{
		Store:       h.store,
		Extractor:   h.extractor,
		Transcoder:  h.encoder,
		Metadata:    h.meta,
		Destination: dest,
		Ejector:     h.ejector,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) reload(t *testing.T, id int64) *queue.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func assertStagingEmpty(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging not cleaned: %d entries left", len(entries))
	}
}

func TestRunCompletesAndArchives(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted || got.ProgressPercent != 100 || got.Attempts != 1 {
		t.Fatalf("unexpected job %#v", got)
	}
	if got.CompletedAt == nil || got.ResultEntryID == nil {
		t.Fatalf("completed job must carry completedAt and a result link: %#v", got)
	}
	item, err := h.store.GetArchivedItem(context.Background(), *got.ResultEntryID)
	if err != nil {
		t.Fatal(err)
	}
	wantPath := filepath.Join(h.cfg.Destination.Local.Path, "The Matrix (1999)", "The Matrix.mp4")
	if item.FilePath != wantPath || item.ImdbID != "tt0133093" || item.Container != "mp4" || item.VideoCodec != h.cfg.Transcode.VideoCodec {
		t.Fatalf("unexpected item %#v", item)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
	if len(h.meta.searches) != 1 || h.meta.searches[0] != "The Matrix" {
		t.Fatalf("metadata searches = %v", h.meta.searches)
	}
	if len(h.ejector.devices) != 1 || h.ejector.devices[0] != "/dev/sr0" {
		t.Fatalf("eject calls = %v", h.ejector.devices)
	}
	assertStagingEmpty(t, h.cfg)
}

func TestRunRetriesExtractionFailures(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(3))
	ripErr := services.Wrap(services.ErrExtractionFailed, "ripping", "makemkv", "read error", nil)
	h.extractor.ripErrs = []error{ripErr, ripErr, nil}
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted || got.Attempts != 3 {
		t.Fatalf("status=%s attempts=%d, want completed after 3", got.Status, got.Attempts)
	}
	dirs := h.extractor.rips()
	if len(dirs) != 3 {
		t.Fatalf("rip calls = %d", len(dirs))
	}
	seen := make(map[string]bool)
	for _, dir := range dirs {
		scratch := filepath.Dir(dir)
		if seen[scratch] {
			t.Fatalf("scratch dir %s reused across attempts", scratch)
		}
		seen[scratch] = true
		if _, err := os.Stat(scratch); !os.IsNotExist(err) {
			t.Fatalf("scratch %s not removed: %v", scratch, err)
		}
	}
	assertStagingEmpty(t, h.cfg)
}

func TestRunStopsWhenRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(3))
	ripErr := services.Wrap(services.ErrExtractionFailed, "ripping", "makemkv", "makemkvcon exited with code 1", nil)
	h.extractor.ripErrs = []error{ripErr, ripErr, ripErr}
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusError || got.Attempts != 3 || got.CompletedAt == nil {
		t.Fatalf("unexpected job %#v", got)
	}
	if got.ErrorKind != string(services.KindExtractionFailed) || !strings.Contains(got.ErrorMessage, "exited with code 1") {
		t.Fatalf("error = %s / %q", got.ErrorKind, got.ErrorMessage)
	}
	if len(h.ejector.devices) != 0 {
		t.Fatal("failed job must not eject")
	}
	assertStagingEmpty(t, h.cfg)
}

func TestRunNoTitleFoundIsNotRetried(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(3))
	h.extractor.titleErr = services.Wrap(services.ErrNoTitleFound, "analyzing", "select title", "disc has no titles", nil)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "DATA")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusError || got.Attempts != 1 || got.ErrorKind != string(services.KindNoTitleFound) {
		t.Fatalf("unexpected job %#v", got)
	}
}

func TestRunWaitsForDriveBeforeAnalysis(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(2))
	h.cfg.Drive.ReadyTimeoutSeconds = 1
	var mu sync.Mutex
	samples := 0
	probe := func(string) disc.DriveStatus {
		mu.Lock()
		defer mu.Unlock()
		samples++
		// first attempt never sees a disc; second attempt finds one
		if samples <= 2 {
			return disc.DriveStatusTrayOpen
		}
		return disc.DriveStatusDiscOK
	}
	dest, err := delivery.NewLocal(h.cfg.Destination.Local.Path, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch, err := workflow.New(h.cfg, workflow.Dependencies{
		Store:       h.store,
		Extractor:   h.extractor,
		Transcoder:  h.encoder,
		Destination: dest,
		DriveProbe:  probe,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	if err := orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted || got.Attempts != 2 {
		t.Fatalf("unexpected job %#v", got)
	}
	if n := len(h.extractor.rips()); n != 1 {
		t.Fatalf("expected one rip after the drive came ready, got %d", n)
	}
}

func TestRunFailsWhenDriveNeverReady(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(1))
	h.cfg.Drive.ReadyTimeoutSeconds = 1
	dest, err := delivery.NewLocal(h.cfg.Destination.Local.Path, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch, err := workflow.New(h.cfg, workflow.Dependencies{
		Store:       h.store,
		Extractor:   h.extractor,
		Transcoder:  h.encoder,
		Destination: dest,
		DriveProbe:  func(string) disc.DriveStatus { return disc.DriveStatusNotReady },
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	if err := orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusError || got.ErrorKind != string(services.KindDriveUnavailable) {
		t.Fatalf("unexpected job %#v", got)
	}
	if len(h.extractor.rips()) != 0 {
		t.Fatal("extractor must not run without a ready drive")
	}
	assertStagingEmpty(t, h.cfg)
}

func TestRunWalksStepsInOrderAndResetsProgress(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")
	rec := &stepRecorder{t: t, store: h.store, jobID: job.ID}
	h.extractor.observe = rec.sample
	h.encoder.observe = rec.sample
	h.meta.observe = rec.sample

	dest, err := delivery.NewLocal(h.cfg.Destination.Local.Path, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch, err := workflow.New(h.cfg, workflow.Dependencies{
		Store:       h.store,
		Extractor:   h.extractor,
		Transcoder:  h.encoder,
		Metadata:    h.meta,
		Destination: recordingDestination{Destination: dest, observe: rec.sample},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []queue.Status{
		queue.StatusAnalyzing,
		queue.StatusRipping,
		queue.StatusTranscoding,
		queue.StatusFetchingMetadata,
		queue.StatusArchiving,
	}
	if len(rec.samples) != len(want) {
		t.Fatalf("visited %+v, want %v", rec.samples, want)
	}
	for i, sample := range rec.samples {
		if sample.status != want[i] {
			t.Fatalf("step %d = %s, want %s (all: %+v)", i, sample.status, want[i], rec.samples)
		}
		if sample.progress != 0 {
			t.Fatalf("progress on entering %s = %v, want 0", sample.status, sample.progress)
		}
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted || got.ProgressPercent != 100 {
		t.Fatalf("final job %s at %v%%", got.Status, got.ProgressPercent)
	}
}

func TestAttemptTimeoutIsChargedToRunningTool(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(1), testsupport.WithJobTimeout(1))
	h.encoder.block = true
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(context.Background(), job.ID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("attempt ceiling never fired")
	}

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusError || got.ErrorKind != string(services.KindTranscodeFailed) {
		t.Fatalf("status=%s kind=%q msg=%q", got.Status, got.ErrorKind, got.ErrorMessage)
	}
	for _, fragment := range []string{"transcoding", config.EngineFFmpeg, "ceiling"} {
		if !strings.Contains(got.ErrorMessage, fragment) {
			t.Fatalf("error message %q lacks %q", got.ErrorMessage, fragment)
		}
	}
	assertStagingEmpty(t, h.cfg)
}

func TestRevokeDuringTranscodingCancelsJob(t *testing.T) {
	h := newHarness(t)
	h.encoder.block = true
	h.encoder.started = make(chan struct{})
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, job.ID) }()

	select {
	case <-h.encoder.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcode never started")
	}
	if status := h.reload(t, job.ID).Status; status != queue.StatusTranscoding {
		t.Fatalf("status during encode = %s", status)
	}
	cancel(errRevoked)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCancelled || got.ResultEntryID != nil || got.CompletedAt == nil {
		t.Fatalf("unexpected job %#v", got)
	}
	items, err := h.store.ListArchivedItems(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("cancelled job produced %d archived items", len(items))
	}
	assertStagingEmpty(t, h.cfg)
}

func TestShutdownRequeuesWithoutChargingAttempt(t *testing.T) {
	h := newHarness(t)
	h.encoder.block = true
	h.encoder.started = make(chan struct{})
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "THE_MATRIX")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, job.ID) }()
	<-h.encoder.started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusQueued || got.Attempts != 0 || got.CompletedAt != nil {
		t.Fatalf("unexpected job %#v", got)
	}
	assertStagingEmpty(t, h.cfg)
}

func TestMetadataFailureFallsBackToLabel(t *testing.T) {
	h := newHarness(t)
	h.meta.searchErr = services.Wrap(services.ErrMetadataUnavailable, "fetching_metadata", "search", "all providers failed", nil)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "BLADE_RUNNER")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("metadata failure must not fail the job: %#v", got)
	}
	item, err := h.store.GetArchivedItem(context.Background(), *got.ResultEntryID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "Blade Runner" || !strings.HasSuffix(item.FilePath, filepath.Join("Blade Runner", "Blade Runner.mp4")) {
		t.Fatalf("unexpected item %#v", item)
	}
}

func TestGenericLabelUsesUnknownTitle(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	item, err := h.store.GetArchivedItem(context.Background(), *got.ResultEntryID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "Unknown Movie" || len(h.meta.searches) != 0 {
		t.Fatalf("title=%q searches=%v", item.Title, h.meta.searches)
	}
}

func TestManualMetadataSkipsLookup(t *testing.T) {
	h := newHarness(t)
	job, err := h.store.CreateJob(context.Background(), queue.NewJob{
		DevicePath:         "/dev/sr0",
		SourceLabel:        "HEAT_D1",
		ManualMetadataJSON: `{"title":"Heat","year":1995}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.reload(t, job.ID)
	item, err := h.store.GetArchivedItem(context.Background(), *got.ResultEntryID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "Heat" || item.Year != 1995 || item.Provider != "manual" {
		t.Fatalf("unexpected item %#v", item)
	}
	if len(h.meta.searches) != 0 {
		t.Fatalf("metadata lookup should be skipped, got %v", h.meta.searches)
	}
}

func TestRunIgnoresTerminalJob(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "/dev/sr0", "X")
	if _, err := h.store.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.extractor.rips()) != 0 {
		t.Fatal("terminal job must not be processed")
	}
}
