package logging

import (
	"context"
	"log/slog"

	"discarchive/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldTaskID is the standardized structured logging key for queue task identifiers.
	FieldTaskID = "task_id"
	// FieldStage is the standardized structured logging key for pipeline step names.
	FieldStage = "stage"
	// FieldDevice is the standardized structured logging key for optical device paths.
	FieldDevice = "device"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	scope, ok := services.ScopeFromContext(ctx)
	if !ok {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if scope.JobID != 0 {
		fields = append(fields, slog.Int64(FieldJobID, scope.JobID))
	}
	if scope.TaskID != "" {
		fields = append(fields, slog.String(FieldTaskID, scope.TaskID))
	}
	if scope.Step != "" {
		fields = append(fields, slog.String(FieldStage, scope.Step))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
