package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"discarchive/internal/config"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/services"
)

// ErrRevoked is the cancellation cause of a job revoked by an operator.
var ErrRevoked = fmt.Errorf("%w: revoked", services.ErrCancelled)

// Spec describes a disc to process.
type Spec struct {
	DevicePath     string
	SourceLabel    string
	ManualMetadata *metadata.Record
}

// Runner executes one claimed job to completion, retry exhaustion,
// cancellation, or shutdown.
type Runner interface {
	Run(ctx context.Context, jobID int64) error
}

// Queue dispatches stored jobs to a fixed set of workers.
type Queue struct {
	store             *queue.Store
	runner            Runner
	logger            *slog.Logger
	workers           int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu      sync.Mutex
	running map[int64]context.CancelCauseFunc
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
	wake    chan struct{}
}

// New constructs a queue bound to store. runner may be nil for processes that
// only enqueue and revoke.
func New(store *queue.Store, runner Runner, cfg *config.Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		store:             store,
		runner:            runner,
		logger:            logging.NewComponentLogger(logger, "jobqueue"),
		workers:           1,
		pollInterval:      2 * time.Second,
		heartbeatInterval: 15 * time.Second,
		heartbeatTimeout:  2 * time.Minute,
		running:           make(map[int64]context.CancelCauseFunc),
		wake:              make(chan struct{}, 1),
	}
	if cfg != nil {
		if cfg.Jobs.Workers > 0 {
			q.workers = cfg.Jobs.Workers
		}
		if d := cfg.Jobs.PollInterval(); d > 0 {
			q.pollInterval = d
		}
		if d := cfg.Jobs.HeartbeatInterval(); d > 0 {
			q.heartbeatInterval = d
		}
		if d := cfg.Jobs.HeartbeatTimeout(); d > 0 {
			q.heartbeatTimeout = d
		}
	}
	return q
}

// Enqueue records a queued job and returns its task id.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (string, error) {
	device := strings.TrimSpace(spec.DevicePath)
	if device == "" {
		return "", services.Wrap(services.ErrValidation, "enqueue", "validate", "device path required", nil)
	}
	var manual string
	if spec.ManualMetadata != nil {
		data, err := json.Marshal(spec.ManualMetadata)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "enqueue", "encode manual metadata", "", err)
		}
		manual = string(data)
	}
	taskID := uuid.NewString()
	job, err := q.store.CreateJob(ctx, queue.NewJob{
		TaskID:             taskID,
		DevicePath:         device,
		SourceLabel:        strings.TrimSpace(spec.SourceLabel),
		ManualMetadataJSON: manual,
	})
	if err != nil {
		return "", err
	}
	q.logger.Info("job enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldDevice, device),
		logging.String("label", job.SourceLabel),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	q.notify()
	return taskID, nil
}

// Revoke requests cancellation of the job with taskID. A queued job is
// cancelled immediately; a running job is interrupted by its worker.
func (q *Queue) Revoke(ctx context.Context, taskID string) error {
	job, err := q.store.GetJobByTaskID(ctx, strings.TrimSpace(taskID))
	if err != nil {
		return err
	}
	return q.RevokeJob(ctx, job.ID)
}

// RevokeJob is Revoke addressed by job id.
func (q *Queue) RevokeJob(ctx context.Context, jobID int64) error {
	job, err := q.store.RequestCancel(ctx, jobID)
	if err != nil {
		return err
	}
	interrupted := q.interrupt(jobID)
	q.logger.Info("job revoked",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldTaskID, job.TaskID),
		logging.String("status", string(job.Status)),
		logging.Bool("interrupted_here", interrupted),
		logging.String(logging.FieldEventType, "job_revoked"),
	)
	return nil
}

func (q *Queue) interrupt(jobID int64) bool {
	q.mu.Lock()
	cancel, ok := q.running[jobID]
	q.mu.Unlock()
	if ok {
		cancel(ErrRevoked)
	}
	return ok
}

// Running reports the ids of jobs executing in this process.
func (q *Queue) Running() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]int64, 0, len(q.running))
	for id := range q.running {
		ids = append(ids, id)
	}
	return ids
}

// Start launches the workers and the cancellation watcher.
func (q *Queue) Start(ctx context.Context) error {
	if q.runner == nil {
		return errors.New("job queue has no runner")
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("job queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true
	q.wg.Add(q.workers + 1)
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		go q.work(runCtx, i)
	}
	go q.watch(runCtx)
	q.logger.Info("job queue started", logging.Int("workers", q.workers))
	return nil
}

// Stop cancels running jobs with a shutdown cause and waits for the workers.
// It is safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.started = false
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work(ctx context.Context, worker int) {
	defer q.wg.Done()
	logger := q.logger.With(logging.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := q.store.ClaimNextQueued(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.ErrorWithContext(logger, "failed to claim next job", "queue_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			q.wait(ctx)
			continue
		}
		if job == nil {
			q.wait(ctx)
			continue
		}
		q.run(ctx, logger, job)
	}
}

func (q *Queue) wait(ctx context.Context) {
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-q.wake:
	case <-timer.C:
	}
}

func (q *Queue) run(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	jobCtx = services.WithJob(jobCtx, job.ID, job.TaskID)
	q.mu.Lock()
	q.running[job.ID] = cancel
	q.mu.Unlock()

	// Stamp before the first tick so the reclaimer never sees a fresh claim as stale.
	if err := q.store.UpdateHeartbeat(ctx, job.ID); err != nil {
		logger.Warn("initial heartbeat failed", logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
	}
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go q.heartbeat(jobCtx, &hbWG, job.ID)

	err := q.runner.Run(jobCtx, job.ID)

	cancel(nil)
	hbWG.Wait()
	q.mu.Lock()
	delete(q.running, job.ID)
	q.mu.Unlock()

	if releaseErr := q.store.ReleaseClaim(context.WithoutCancel(ctx), job.ID); releaseErr != nil {
		logger.Warn("release claim failed", logging.Int64(logging.FieldJobID, job.ID), logging.Error(releaseErr))
	}
	if err != nil && ctx.Err() == nil {
		logger.Warn("job run returned error",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_run_error"),
		)
	}
}

func (q *Queue) heartbeat(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	ticker := time.NewTicker(q.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.store.UpdateHeartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
				q.logger.Warn("heartbeat update failed", logging.Int64(logging.FieldJobID, jobID), logging.Error(err))
			}
		}
	}
}

// watch forwards cancellations recorded by other processes and returns jobs
// whose worker stopped heartbeating to the queue.
func (q *Queue) watch(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		q.forwardCancellations(ctx)
		q.reclaimStale(ctx)
	}
}

func (q *Queue) forwardCancellations(ctx context.Context) {
	jobs, err := q.store.PendingCancellations(ctx)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Warn("read pending cancellations failed", logging.Error(err))
		}
		return
	}
	for _, job := range jobs {
		if q.interrupt(job.ID) {
			q.logger.Info("cancellation forwarded to worker",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldTaskID, job.TaskID),
			)
		}
	}
}

func (q *Queue) reclaimStale(ctx context.Context) {
	reclaimed, err := q.store.ReclaimStale(ctx, time.Now().Add(-q.heartbeatTimeout))
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(q.logger, "reclaim stale jobs failed; stuck jobs may remain", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}
	if reclaimed > 0 {
		q.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
		q.notify()
	}
}
