package cron

import (
	"context"

	"github.com/xraph/jobcontrol/id"
	"github.com/xraph/jobcontrol/job"
)

// Store is the slice of job.Store the scheduler writes through.
type Store interface {
	// Insert persists a new occurrence.
	Insert(ctx context.Context, j *job.Job) (id.JobID, error)

	// CancelActive cancels every non-terminal job of jobType.
	CancelActive(ctx context.Context, jobType string) (int64, error)
}
