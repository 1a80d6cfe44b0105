package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/delivery"
	"discarchive/internal/disc"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/services"
	"discarchive/internal/services/makemkv"
	"discarchive/internal/toolparse"
	"discarchive/internal/transcode"
)

// ErrJobBusy is returned when a job is already executing in this process.
var ErrJobBusy = errors.New("job already running")

const (
	ejectTimeout       = 30 * time.Second
	driveReadyInterval = time.Second
)

// Extractor reads titles from an optical disc.
type Extractor interface {
	MainTitle(ctx context.Context, device string) (toolparse.Title, error)
	Rip(ctx context.Context, device string, titleIndex int, destDir string, progress func(makemkv.ProgressUpdate)) (string, error)
}

// Dependencies are the collaborators an Orchestrator drives. Metadata,
// Ejector, and DriveProbe are optional. Without a DriveProbe the drive is
// assumed ready when analysis starts.
type Dependencies struct {
	Store       *queue.Store
	Extractor   Extractor
	Transcoder  transcode.Engine
	Metadata    metadata.Source
	Destination delivery.Destination
	Ejector     disc.Ejector
	DriveProbe  disc.StatusFunc
}

// Orchestrator executes queued jobs.
type Orchestrator struct {
	store       *queue.Store
	extractor   Extractor
	transcoder  transcode.Engine
	metadata    metadata.Source
	destination delivery.Destination
	ejector     disc.Ejector
	probe       disc.StatusFunc
	logger      *slog.Logger

	stagingDir     string
	maxAttempts    int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	readyTimeout   time.Duration
	ejectOnSuccess bool
	settings       config.Transcode

	mu     sync.Mutex
	active map[int64]struct{}
}

// New constructs an orchestrator from configuration and collaborators.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "config required", nil)
	}
	if deps.Store == nil || deps.Extractor == nil || deps.Transcoder == nil || deps.Destination == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init",
			"store, extractor, transcoder, and destination are required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	maxAttempts := cfg.Jobs.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Orchestrator{
		store:          deps.Store,
		extractor:      deps.Extractor,
		transcoder:     deps.Transcoder,
		metadata:       deps.Metadata,
		destination:    deps.Destination,
		ejector:        deps.Ejector,
		probe:          deps.DriveProbe,
		logger:         logging.NewComponentLogger(logger, "workflow"),
		stagingDir:     cfg.Paths.StagingDir,
		maxAttempts:    maxAttempts,
		retryDelay:     cfg.Jobs.RetryDelay(),
		attemptTimeout: cfg.Jobs.JobTimeout(),
		readyTimeout:   cfg.Drive.ReadyTimeout(),
		ejectOnSuccess: cfg.Jobs.EjectOnSuccess,
		settings:       cfg.Transcode,
		active:         make(map[int64]struct{}),
	}, nil
}

// Run executes the job until it completes, fails for good, is cancelled, or
// ctx ends. Outcomes recorded on the job return nil; a non-nil error means
// the job could not be loaded or its state could not be persisted, or the
// run was interrupted by shutdown.
func (o *Orchestrator) Run(ctx context.Context, jobID int64) error {
	if !o.enter(jobID) {
		return fmt.Errorf("job %d: %w", jobID, ErrJobBusy)
	}
	defer o.leave(jobID)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	ctx = services.WithJob(ctx, job.ID, job.TaskID)
	logger := o.jobLogger(ctx, job)
	manual := decodeManual(logger, job.ManualMetadataJSON)

	for {
		if requested, err := o.store.CancelRequested(ctx, job.ID); err == nil && requested {
			return o.finishCancelled(ctx, logger, job, errors.New("cancel requested before start"))
		}
		if job.Attempts >= o.maxAttempts {
			return o.finishFailed(ctx, logger, job,
				fmt.Errorf("retry budget of %d attempts exhausted by an interrupted run", o.maxAttempts))
		}

		runErr := o.attempt(ctx, logger, job, manual)
		if runErr == nil {
			return nil
		}

		switch {
		case errors.Is(runErr, services.ErrCancelled):
			return o.finishCancelled(ctx, logger, job, runErr)
		case ctx.Err() != nil:
			return o.requeueForShutdown(ctx, logger, job, runErr)
		case services.Retryable(runErr) && job.Attempts < o.maxAttempts:
			if err := o.scheduleRetry(ctx, logger, job, runErr); err != nil {
				return err
			}
			if err := o.waitRetry(ctx); err != nil {
				if errors.Is(err, services.ErrCancelled) {
					return o.finishCancelled(ctx, logger, job, err)
				}
				// Left queued with its retry time; the next claim resumes it.
				return err
			}
		default:
			return o.finishFailed(ctx, logger, job, runErr)
		}
	}
}

func (o *Orchestrator) enter(jobID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[jobID]; busy {
		return false
	}
	o.active[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) leave(jobID int64) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) jobLogger(ctx context.Context, job *queue.Job) *slog.Logger {
	return logging.WithContext(ctx, o.logger).With(
		logging.String(logging.FieldDevice, job.DevicePath),
		logging.String("label", job.SourceLabel),
	)
}

// decodeManual returns caller-supplied metadata, or nil when none was given
// or it lacks a title.
func decodeManual(logger *slog.Logger, raw string) *metadata.Record {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var record metadata.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		logging.WarnWithContext(logger, "manual metadata unreadable; looking up metadata instead", "manual_metadata_invalid",
			logging.Error(err),
		)
		return nil
	}
	if strings.TrimSpace(record.Title) == "" {
		return nil
	}
	if record.Provider == "" {
		record.Provider = "manual"
	}
	return &record
}

// persist writes the job without the caller's cancellation so terminal
// states land even when the run context is done.
func (o *Orchestrator) persist(ctx context.Context, job *queue.Job) error {
	return o.store.UpdateJob(context.WithoutCancel(ctx), job)
}

func (o *Orchestrator) waitRetry(ctx context.Context) error {
	if o.retryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
