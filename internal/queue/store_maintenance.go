package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// UpdateHeartbeat stamps a claimed job as alive.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND claimed_at IS NOT NULL`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns claimed in-flight jobs whose heartbeat is older than
// the cutoff to the queue so another worker can pick them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	args := append([]any{string(StatusQueued), StatusQueued.Label(), formatTime(time.Now())}, statusArgs(InFlightStatuses)...)
	args = append(args, formatTime(cutoff))
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, current_step = ?, progress_percent = 0, step_detail = NULL,
             claimed_at = NULL, heartbeat_at = NULL, updated_at = ?
         WHERE status IN (`+makePlaceholders(len(InFlightStatuses))+`)
           AND claimed_at IS NOT NULL
           AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequeueInterrupted resets every in-flight or claimed job after a daemon
// restart. Jobs with a pending cancellation become cancelled instead.
func (s *Store) RequeueInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	inFlight := makePlaceholders(len(InFlightStatuses))

	cancelArgs := append([]any{string(StatusCancelled), StatusCancelled.Label(), now, now, string(StatusQueued)}, statusArgs(InFlightStatuses)...)
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, current_step = ?, step_detail = NULL, claimed_at = NULL, heartbeat_at = NULL,
             retry_at = NULL, completed_at = ?, updated_at = ?
         WHERE cancel_requested = 1 AND (status = ? OR status IN (`+inFlight+`))`,
		cancelArgs...,
	); err != nil {
		return 0, fmt.Errorf("cancel interrupted jobs: %w", err)
	}

	requeueArgs := append([]any{string(StatusQueued), StatusQueued.Label(), now, string(StatusQueued)}, statusArgs(InFlightStatuses)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, current_step = ?, progress_percent = 0, step_detail = NULL,
             claimed_at = NULL, heartbeat_at = NULL, updated_at = ?
         WHERE (status = ? AND claimed_at IS NOT NULL) OR status IN (`+inFlight+`)`,
		requeueArgs...,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes terminal jobs that completed before the cutoff.
// Archived items survive with their job link cleared.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(StatusCompleted), string(StatusError), string(StatusCancelled), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}
