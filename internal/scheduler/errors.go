package scheduler

import (
	"errors"
	"fmt"

	"wagenda/internal/storage"
)

var (
	// ErrPastDue rejects schedule requests older than the grace window.
	ErrPastDue = errors.New("scheduler: scheduled time is in the past")
	// ErrUnknownAlias rejects schedule requests for unregistered aliases.
	ErrUnknownAlias = errors.New("scheduler: unknown group alias")
	// ErrNotFound reports a cancel for a job id that does not exist.
	ErrNotFound = errors.New("scheduler: job not found")
	// ErrInvalidState reports a cancel for a job no longer pending.
	ErrInvalidState = errors.New("scheduler: job is not pending")
)

// UnknownAliasError carries the alias for user-facing rendering.
type UnknownAliasError struct {
	Alias string
}

func (e *UnknownAliasError) Error() string {
	return fmt.Sprintf("scheduler: unknown group alias %q", e.Alias)
}

func (e *UnknownAliasError) Unwrap() error { return ErrUnknownAlias }

// InvalidStateError carries the job's current status.
type InvalidStateError struct {
	JobID  int64
	Status storage.JobStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("scheduler: job %d is %s, not pending", e.JobID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
