package queue

import (
	"fmt"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusAnalyzing        Status = "analyzing"
	StatusRipping          Status = "ripping"
	StatusTranscoding      Status = "transcoding"
	StatusFetchingMetadata Status = "fetching_metadata"
	StatusArchiving        Status = "archiving"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// pipeline is the linear order of the happy path.
var pipeline = []Status{
	StatusQueued,
	StatusAnalyzing,
	StatusRipping,
	StatusTranscoding,
	StatusFetchingMetadata,
	StatusArchiving,
	StatusCompleted,
}

var stepLabels = map[Status]string{
	StatusQueued:           "Queued",
	StatusAnalyzing:        "Analyzing disc",
	StatusRipping:          "Ripping main title",
	StatusTranscoding:      "Transcoding",
	StatusFetchingMetadata: "Fetching metadata",
	StatusArchiving:        "Archiving",
	StatusCompleted:        "Completed",
	StatusError:            "Failed",
	StatusCancelled:        "Cancelled",
}

// InFlightStatuses are the statuses in which a worker owns the job.
var InFlightStatuses = []Status{
	StatusAnalyzing,
	StatusRipping,
	StatusTranscoding,
	StatusFetchingMetadata,
	StatusArchiving,
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	status := Status(value)
	if _, ok := stepLabels[status]; ok {
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// IsInFlight reports whether the status is one of the pipeline steps.
func (s Status) IsInFlight() bool {
	for _, candidate := range InFlightStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Label is the human readable step name.
func (s Status) Label() string {
	if label, ok := stepLabels[s]; ok {
		return label
	}
	return string(s)
}

func pipelineIndex(s Status) int {
	for i, candidate := range pipeline {
		if candidate == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether a job may move from one status to another.
// The pipeline is linear, fetching_metadata may be skipped when metadata was
// supplied up front, an in-flight job may return to queued for a retry, and
// error or cancelled may be entered from any non-terminal status.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusError, StatusCancelled:
		return true
	case StatusQueued:
		return from.IsInFlight()
	}
	fromIdx, toIdx := pipelineIndex(from), pipelineIndex(to)
	if fromIdx < 0 || toIdx < 0 {
		return false
	}
	if toIdx == fromIdx+1 {
		return true
	}
	return from == StatusTranscoding && to == StatusArchiving
}

// Job is the persisted unit of work for one disc.
type Job struct {
	ID                 int64
	TaskID             string
	DevicePath         string
	SourceLabel        string
	Status             Status
	ProgressPercent    float64
	CurrentStep        string
	StepDetail         string
	Attempts           int
	ErrorMessage       string
	ErrorKind          string
	RetryAt            *time.Time
	CancelRequested    bool
	ManualMetadataJSON string
	ResultEntryID      *int64
	ClaimedAt          *time.Time
	HeartbeatAt        *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Transition moves the job to a new status. Progress resets on every step
// change, completedAt tracks terminal statuses, and completion pins progress
// to 100.
func (j *Job) Transition(to Status) error {
	if j.Status == to {
		return nil
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	now := time.Now().UTC()
	j.Status = to
	j.CurrentStep = to.Label()
	j.StepDetail = ""
	j.ProgressPercent = 0
	if to == StatusAnalyzing && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if to.IsTerminal() {
		j.CompletedAt = &now
	} else {
		j.CompletedAt = nil
	}
	if to == StatusCompleted {
		j.ProgressPercent = 100
		j.ErrorMessage = ""
		j.ErrorKind = ""
	}
	if to != StatusQueued {
		j.RetryAt = nil
	}
	return nil
}

// SetProgress records step progress. Percent is clamped to [0,100] and never
// moves backwards within a step.
func (j *Job) SetProgress(percent float64, detail string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
	if detail != "" {
		j.StepDetail = detail
	}
}

// SetFailure records a failure message without changing status.
func (j *Job) SetFailure(kind, message string) {
	j.ErrorKind = kind
	j.ErrorMessage = message
}

// ArchivedItem is the library record created by a successful job.
type ArchivedItem struct {
	ID             int64
	JobID          int64
	Title          string
	OriginalTitle  string
	Year           int
	Plot           string
	Cast           []string
	Genres         []string
	Director       string
	RuntimeMinutes int
	PosterURL      string
	ImdbID         string
	Provider       string
	ProviderID     string
	FilePath       string
	FileSizeBytes  int64
	Container      string
	VideoCodec     string
	AudioCodec     string
	CreatedAt      time.Time
}
