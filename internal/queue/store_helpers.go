package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const jobColumns = "id, task_id, device_path, source_label, status, progress_percent, current_step, step_detail, attempts, error_message, error_kind, retry_at, cancel_requested, manual_metadata_json, result_entry_id, claimed_at, heartbeat_at, started_at, completed_at, created_at, updated_at"

const itemColumns = "id, job_id, title, original_title, year, plot, cast_json, genres_json, director, runtime_minutes, poster_url, imdb_id, provider, provider_id, file_path, file_size_bytes, container, video_codec, audio_codec, created_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job             Job
		taskID          sql.NullString
		sourceLabel     sql.NullString
		statusStr       string
		currentStep     sql.NullString
		stepDetail      sql.NullString
		errorMessage    sql.NullString
		errorKind       sql.NullString
		retryAtRaw      sql.NullString
		cancelRequested int64
		manualMetadata  sql.NullString
		resultEntryID   sql.NullInt64
		claimedRaw      sql.NullString
		heartbeatRaw    sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		createdRaw      string
		updatedRaw      string
	)
	if err := scanner.Scan(
		&job.ID,
		&taskID,
		&job.DevicePath,
		&sourceLabel,
		&statusStr,
		&job.ProgressPercent,
		&currentStep,
		&stepDetail,
		&job.Attempts,
		&errorMessage,
		&errorKind,
		&retryAtRaw,
		&cancelRequested,
		&manualMetadata,
		&resultEntryID,
		&claimedRaw,
		&heartbeatRaw,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.TaskID = taskID.String
	job.SourceLabel = sourceLabel.String
	job.Status = Status(statusStr)
	job.CurrentStep = currentStep.String
	job.StepDetail = stepDetail.String
	job.ErrorMessage = errorMessage.String
	job.ErrorKind = errorKind.String
	job.CancelRequested = cancelRequested != 0
	job.ManualMetadataJSON = manualMetadata.String
	if resultEntryID.Valid {
		id := resultEntryID.Int64
		job.ResultEntryID = &id
	}
	job.RetryAt = parseNullableTime(retryAtRaw)
	job.ClaimedAt = parseNullableTime(claimedRaw)
	job.HeartbeatAt = parseNullableTime(heartbeatRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func scanArchivedItem(scanner rowScanner) (*ArchivedItem, error) {
	var (
		item          ArchivedItem
		jobID         sql.NullInt64
		originalTitle sql.NullString
		year          sql.NullInt64
		plot          sql.NullString
		castJSON      string
		genresJSON    string
		director      sql.NullString
		runtime       sql.NullInt64
		posterURL     sql.NullString
		imdbID        sql.NullString
		provider      sql.NullString
		providerID    sql.NullString
		container     sql.NullString
		videoCodec    sql.NullString
		audioCodec    sql.NullString
		createdRaw    string
	)
	if err := scanner.Scan(
		&item.ID,
		&jobID,
		&item.Title,
		&originalTitle,
		&year,
		&plot,
		&castJSON,
		&genresJSON,
		&director,
		&runtime,
		&posterURL,
		&imdbID,
		&provider,
		&providerID,
		&item.FilePath,
		&item.FileSizeBytes,
		&container,
		&videoCodec,
		&audioCodec,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	item.JobID = jobID.Int64
	item.OriginalTitle = originalTitle.String
	item.Year = int(year.Int64)
	item.Plot = plot.String
	item.Director = director.String
	item.RuntimeMinutes = int(runtime.Int64)
	item.PosterURL = posterURL.String
	item.ImdbID = imdbID.String
	item.Provider = provider.String
	item.ProviderID = providerID.String
	item.Container = container.String
	item.VideoCodec = videoCodec.String
	item.AudioCodec = audioCodec.String
	_ = json.Unmarshal([]byte(castJSON), &item.Cast)
	_ = json.Unmarshal([]byte(genresJSON), &item.Genres)
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	return &item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func jsonList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	return args
}
