package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewJob describes a job to insert.
type NewJob struct {
	TaskID             string
	DevicePath         string
	SourceLabel        string
	ManualMetadataJSON string
}

// CreateJob inserts a queued job.
func (s *Store) CreateJob(ctx context.Context, spec NewJob) (*Job, error) {
	if strings.TrimSpace(spec.DevicePath) == "" {
		return nil, errors.New("create job: device path is required")
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            task_id, device_path, source_label, status, progress_percent, current_step,
            manual_metadata_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		nullableString(spec.TaskID),
		spec.DevicePath,
		nullableString(spec.SourceLabel),
		string(StatusQueued),
		StatusQueued.Label(),
		nullableString(spec.ManualMetadataJSON),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobByTaskID fetches a job by its external queue task identifier.
func (s *Store) GetJobByTaskID(ctx context.Context, taskID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE task_id = ?`, taskID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job by task: %w", err)
	}
	return job, nil
}

// AssignTaskID sets the external task id. Once set it can never change.
func (s *Store) AssignTaskID(ctx context.Context, id int64, taskID string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET task_id = ?, updated_at = ? WHERE id = ? AND (task_id IS NULL OR task_id = ?)`,
		taskID, formatTime(time.Now()), id, taskID,
	)
	if err != nil {
		return fmt.Errorf("assign task id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %d: %w", id, ErrTaskIDImmutable)
	}
	return nil
}

// UpdateJob persists the mutable fields of a job. Task id, cancellation flag,
// and result link have dedicated operations and are not written here.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET source_label = ?, status = ?, progress_percent = ?, current_step = ?, step_detail = ?,
             attempts = ?, error_message = ?, error_kind = ?, retry_at = ?, started_at = ?,
             completed_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(job.SourceLabel),
		string(job.Status),
		job.ProgressPercent,
		nullableString(job.CurrentStep),
		nullableString(job.StepDetail),
		job.Attempts,
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorKind),
		nullableTime(job.RetryAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateProgress writes only the progress columns.
func (s *Store) UpdateProgress(ctx context.Context, id int64, percent float64, detail string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress_percent = ?, step_detail = ?, updated_at = ? WHERE id = ?`,
		percent, nullableString(detail), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ListJobs returns jobs ordered by id, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := statusArgs(statuses)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	query += ` ORDER BY id`
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextQueued atomically marks the oldest due queued job as claimed and
// returns it. It returns nil when nothing is due. A claimed job is never
// handed to a second worker until its claim is released.
func (s *Store) ClaimNextQueued(ctx context.Context, now time.Time) (*Job, error) {
	stamp := formatTime(now)
	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(
			ctx,
			`UPDATE jobs SET claimed_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE status = ? AND claimed_at IS NULL AND cancel_requested = 0
                   AND (retry_at IS NULL OR retry_at <= ?)
                 ORDER BY id LIMIT 1
             )
             RETURNING id`,
			stamp, stamp, string(StatusQueued), stamp,
		).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// ReleaseClaim makes a job claimable again.
func (s *Store) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_at = NULL, heartbeat_at = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// RequestCancel flags a job for cancellation. Jobs that are queued and not
// claimed by a worker are cancelled immediately. Terminal jobs are rejected
// with ErrJobTerminal.
func (s *Store) RequestCancel(ctx context.Context, id int64) (*Job, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("job %d is %s: %w", id, job.Status, ErrJobTerminal)
		}
		now := time.Now().UTC()
		if job.Status == StatusQueued && job.ClaimedAt == nil {
			if err := job.Transition(StatusCancelled); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE jobs SET cancel_requested = 1, status = ?, current_step = ?, step_detail = NULL,
                     progress_percent = 0, retry_at = NULL, completed_at = ?, updated_at = ? WHERE id = ?`,
				string(job.Status), job.CurrentStep, formatTime(now), formatTime(now), id,
			)
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`, formatTime(now), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// CancelRequested reports whether cancellation was requested for a job.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flag int64
	if err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// PendingCancellations returns claimed, non-terminal jobs with an
// outstanding cancellation request.
func (s *Store) PendingCancellations(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE cancel_requested = 1 AND claimed_at IS NOT NULL AND status NOT IN (?, ?, ?)
         ORDER BY id`,
		string(StatusCompleted), string(StatusError), string(StatusCancelled),
	)
}

// CompleteJob inserts the archived item, links it to the job, and marks the
// job completed in a single transaction.
func (s *Store) CompleteJob(ctx context.Context, job *Job, item *ArchivedItem) error {
	if job == nil || item == nil {
		return errors.New("complete job: job and item are required")
	}
	if job.ResultEntryID != nil {
		return fmt.Errorf("job %d already linked to item %d: %w", job.ID, *job.ResultEntryID, ErrJobTerminal)
	}
	if err := job.Transition(StatusCompleted); err != nil {
		return err
	}
	item.JobID = job.ID
	item.CreatedAt = time.Now().UTC()
	job.UpdatedAt = item.CreatedAt

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO archived_items (
                job_id, title, original_title, year, plot, cast_json, genres_json, director,
                runtime_minutes, poster_url, imdb_id, provider, provider_id, file_path,
                file_size_bytes, container, video_codec, audio_codec, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.JobID,
			item.Title,
			nullableString(item.OriginalTitle),
			nullableInt(item.Year),
			nullableString(item.Plot),
			jsonList(item.Cast),
			jsonList(item.Genres),
			nullableString(item.Director),
			nullableInt(item.RuntimeMinutes),
			nullableString(item.PosterURL),
			nullableString(item.ImdbID),
			nullableString(item.Provider),
			nullableString(item.ProviderID),
			item.FilePath,
			item.FileSizeBytes,
			nullableString(item.Container),
			nullableString(item.VideoCodec),
			nullableString(item.AudioCodec),
			formatTime(item.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert archived item: %w", err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("archived item id: %w", err)
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, progress_percent = ?, current_step = ?, step_detail = ?, attempts = ?,
                 error_message = NULL, error_kind = NULL, retry_at = NULL, result_entry_id = ?,
                 completed_at = ?, updated_at = ?
             WHERE id = ? AND result_entry_id IS NULL`,
			string(job.Status),
			job.ProgressPercent,
			job.CurrentStep,
			nullableString(job.StepDetail),
			job.Attempts,
			itemID,
			nullableTime(job.CompletedAt),
			formatTime(job.UpdatedAt),
			job.ID,
		)
		if err != nil {
			return fmt.Errorf("link archived item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %d already completed: %w", job.ID, ErrJobTerminal)
		}
		item.ID = itemID
		return nil
	})
	if err != nil {
		return err
	}
	job.ResultEntryID = &item.ID
	return nil
}
