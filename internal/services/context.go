package services

import "context"

type scopeKey struct{}

// JobScope identifies the job and pipeline step a context belongs to.
type JobScope struct {
	JobID  int64
	TaskID string
	Step   string
}

func (s JobScope) empty() bool {
	return s.JobID == 0 && s.TaskID == "" && s.Step == ""
}

// WithJob scopes ctx to a job. The step of an enclosing scope is dropped.
func WithJob(ctx context.Context, jobID int64, taskID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, JobScope{JobID: jobID, TaskID: taskID})
}

// WithStep narrows the job scope of ctx to a pipeline step.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	scope, _ := ScopeFromContext(ctx)
	scope.Step = step
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the job scope carried by ctx.
func ScopeFromContext(ctx context.Context) (JobScope, bool) {
	if ctx == nil {
		return JobScope{}, false
	}
	scope, ok := ctx.Value(scopeKey{}).(JobScope)
	if !ok || scope.empty() {
		return JobScope{}, false
	}
	return scope, true
}
