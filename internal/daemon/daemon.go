package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"discarchive/internal/config"
	"discarchive/internal/disc"
	"discarchive/internal/discmonitor"
	"discarchive/internal/jobqueue"
	"discarchive/internal/logging"
	"discarchive/internal/queue"
	"discarchive/internal/staging"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another discarchive daemon instance is already running")

const defaultSweepInterval = 24 * time.Hour

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	jobs    *jobqueue.Queue
	monitor discmonitor.Monitor

	lockPath      string
	lock          *flock.Flock
	sweepInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	DatabasePath string
	Jobs         map[queue.Status]int
	ActiveJobIDs []int64
}

// New constructs a daemon. monitor may be nil when no drive is watched.
func New(cfg *config.Config, store *queue.Store, jobs *jobqueue.Queue, monitor discmonitor.Monitor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || jobs == nil {
		return nil, errors.New("daemon requires config, store, and job queue")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		store:         store,
		jobs:          jobs,
		monitor:       monitor,
		lockPath:      lockPath,
		lock:          flock.New(lockPath),
		sweepInterval: defaultSweepInterval,
	}, nil
}

// Start acquires the lock, recovers interrupted jobs, and launches the job
// queue, the drive monitor, and the retention sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	requeued, err := d.store.RequeueInterrupted(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued interrupted jobs",
			logging.Int64("count", requeued),
			logging.String(logging.FieldEventType, "jobs_requeued"),
		)
	}

	// Nothing runs yet, so every scratch directory belongs to a dead attempt.
	staging.CleanOrphaned(ctx, d.cfg.Paths.StagingDir, nil, d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.jobs.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start job queue: %w", err)
	}

	if d.monitor != nil {
		d.monitor.OnDiscDetected(d.handleDisc)
		if err := d.monitor.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "drive monitor failed to start; discs must be enqueued manually", "monitor_start_failed",
				logging.Error(err),
				logging.String(logging.FieldDevice, d.cfg.Drive.Device),
				logging.String(logging.FieldErrorHint, "check drive.device and permissions on the device node"),
				logging.String(logging.FieldImpact, "inserted discs are not detected"),
			)
		}
	}

	d.wg.Add(1)
	go d.sweepLoop(runCtx)

	d.cancel = cancel
	d.running = true
	d.logger.Info("discarchive daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldDevice, d.cfg.Drive.Device),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop stops background processing and releases the lock. Running jobs are
// returned to the queue.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	d.jobs.Stop()
	d.cancel()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.cancel = nil
	d.running = false
	d.logger.Info("discarchive daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.Running(),
		LockFilePath: d.lockPath,
		DatabasePath: d.store.Path(),
		Jobs:         stats,
		ActiveJobIDs: d.jobs.Running(),
	}, nil
}

// handleDisc queues a detected video disc unless the drive already has an
// unfinished job.
func (d *Daemon) handleDisc(ctx context.Context, info disc.Info) {
	logger := d.logger.With(
		logging.String(logging.FieldDevice, info.Device),
		logging.String("label", info.Label),
		logging.String("disc_kind", info.Kind),
	)
	if !info.IsVideo {
		logger.Info("ignoring non-video disc", logging.String(logging.FieldEventType, "disc_ignored"))
		return
	}
	active, err := d.activeJobForDevice(ctx, info.Device)
	if err != nil {
		logger.Warn("could not check for an active job; enqueueing anyway", logging.Error(err))
	}
	if active != nil {
		logger.Info("drive already has an unfinished job; not enqueueing",
			logging.Int64(logging.FieldJobID, active.ID),
			logging.String("status", string(active.Status)),
		)
		return
	}
	taskID, err := d.jobs.Enqueue(ctx, jobqueue.Spec{DevicePath: info.Device, SourceLabel: info.Label})
	if err != nil {
		logging.ErrorWithContext(logger, "failed to enqueue detected disc", "enqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	logger.Info("disc enqueued", logging.String(logging.FieldTaskID, taskID))
}

func (d *Daemon) activeJobForDevice(ctx context.Context, device string) (*queue.Job, error) {
	statuses := append([]queue.Status{queue.StatusQueued}, queue.InFlightStatuses...)
	jobs, err := d.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.DevicePath == device {
			return job, nil
		}
	}
	return nil, nil
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	d.sweep(ctx)
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep deletes finished jobs older than the retention window. A retention
// of zero keeps everything.
func (d *Daemon) sweep(ctx context.Context) {
	days := d.cfg.Jobs.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	purged, err := d.store.PurgeFinished(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("retention sweep failed", logging.Error(err))
		}
		return
	}
	if purged > 0 {
		d.logger.Info("purged finished jobs",
			logging.Int64("count", purged),
			logging.Int("retention_days", days),
			logging.String(logging.FieldEventType, "retention_sweep"),
		)
	}
}
