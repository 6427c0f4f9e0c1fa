package scheduler

import "context"

// Job is a unit of work executed by the worker pool. Different job types
// can be implemented (connection syncs, cleanup, re-notification).
type Job interface {
	// Execute runs the job. Context carries the per-job timeout.
	Execute(ctx context.Context) error

	// ConnectionID returns the connection this job operates on, for
	// logging and tracing.
	ConnectionID() string

	// Description returns a human-readable description of the job.
	Description() string
}
