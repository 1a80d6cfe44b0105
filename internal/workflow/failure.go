package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"discarchive/internal/logging"
	"discarchive/internal/queue"
	"discarchive/internal/services"
)

// failureHints map a failure kind to the operator action most likely to fix it.
var failureHints = map[services.Kind]string{
	services.KindNoTitleFound:           "check the disc for damage or lower makemkv.min_length",
	services.KindExtractionFailed:       "inspect the MakeMKV messages above; clean the disc or renew the MakeMKV key",
	services.KindTranscodeFailed:        "inspect the transcoder output tail in the error message",
	services.KindDeliveryAuthFailure:    "verify destination.ssh.user and the SSH key path",
	services.KindDeliveryConnectFailure: "verify destination.ssh.host, port, and network reachability",
	services.KindDeliveryTransfer:       "check free space and permissions at the archive destination",
	services.KindConfiguration:          "fix the configuration and re-enqueue the disc",
}

func failureMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "job failed without error detail"
	}
	return msg
}

// scheduleRetry records the failed attempt and returns the job to queued with
// its retry time. The claim stays with this worker while it waits.
func (o *Orchestrator) scheduleRetry(ctx context.Context, logger *slog.Logger, job *queue.Job, runErr error) error {
	kind := services.KindOf(runErr)
	job.SetFailure(string(kind), failureMessage(runErr))
	if err := job.Transition(queue.StatusQueued); err != nil {
		return err
	}
	retryAt := time.Now().UTC().Add(o.retryDelay)
	job.RetryAt = &retryAt
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	logging.WarnWithContext(logger, "attempt failed; retry scheduled", "attempt_failed",
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", o.maxAttempts),
		logging.Duration("retry_in", o.retryDelay),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String(logging.FieldErrorHint, failureHints[kind]),
		logging.Error(runErr),
	)
	return nil
}

// finishFailed records a terminal error.
func (o *Orchestrator) finishFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, runErr error) error {
	kind := services.KindOf(runErr)
	job.SetFailure(string(kind), failureMessage(runErr))
	if err := job.Transition(queue.StatusError); err != nil {
		return err
	}
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Int("attempts", job.Attempts),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String(logging.FieldErrorHint, failureHints[kind]),
		logging.String(logging.FieldImpact, "disc was not archived"),
		logging.Error(runErr),
	)
	return nil
}

// finishCancelled records an operator cancellation. It is not a failure.
func (o *Orchestrator) finishCancelled(ctx context.Context, logger *slog.Logger, job *queue.Job, reason error) error {
	if err := job.Transition(queue.StatusCancelled); err != nil {
		return err
	}
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	logger.Info("job cancelled",
		logging.Int("attempts", job.Attempts),
		logging.String("reason", reason.Error()),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return nil
}

// requeueForShutdown hands an interrupted job back to the queue. The
// interrupted attempt is not charged against the retry budget.
func (o *Orchestrator) requeueForShutdown(ctx context.Context, logger *slog.Logger, job *queue.Job, runErr error) error {
	if job.Status.IsInFlight() {
		if err := job.Transition(queue.StatusQueued); err != nil {
			return err
		}
		if job.Attempts > 0 {
			job.Attempts--
		}
		if err := o.persist(ctx, job); err != nil {
			return err
		}
	}
	logger.Info("job interrupted by shutdown; requeued",
		logging.Int("attempts", job.Attempts),
		logging.String(logging.FieldEventType, "job_requeued"),
	)
	return runErr
}
