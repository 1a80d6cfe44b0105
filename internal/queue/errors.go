package queue

import "errors"

var (
	// ErrNotFound is returned when a job or archived item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrJobTerminal is returned when an operation targets a job that already
	// reached completed, error, or cancelled.
	ErrJobTerminal = errors.New("job already finished")
	// ErrTaskIDImmutable is returned when a job's task id would be replaced.
	ErrTaskIDImmutable = errors.New("task id already assigned")
	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)
