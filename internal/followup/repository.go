package followup

import (
	"context"
	"time"
)

// Repository persists follow-up jobs
type Repository interface {
	// CreateJob stores a new job. It fails if an active job already exists
	// for the same (client, stage) pair.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by id. Returns nil, nil when absent.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob persists job mutations and maintains the due index
	UpdateJob(ctx context.Context, job *Job) error

	// DeleteJob removes a job
	DeleteJob(ctx context.Context, id string) error

	// FindDue returns jobs eligible for processing at the given time,
	// oldest first
	FindDue(ctx context.Context, now time.Time) ([]*Job, error)

	// ListJobs returns jobs matching the filter
	ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error)

	// JobStats returns population statistics
	JobStats(ctx context.Context) (*Statistics, error)

	// CleanupTerminal purges completed/failed jobs older than maxAge and
	// returns the number removed
	CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error)
}
