package job

import (
	"context"
	"time"

	"github.com/xraph/jobcontrol/id"
)

// Store defines the persistence contract for jobs. Every mutation
// refreshes UpdatedAt.
type Store interface {
	// Insert persists a new job, assigning an ID and timestamps when they
	// are unset, and returns the ID.
	Insert(ctx context.Context, j *Job) (id.JobID, error)

	// Get retrieves a job by ID. Returns jobcontrol.ErrJobNotFound when
	// absent.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// Find returns jobs matching q.
	Find(ctx context.Context, q Query) ([]*Job, error)

	// Count returns the number of jobs matching q.
	Count(ctx context.Context, q Query) (int64, error)

	// UpdateStatus applies t atomically. Returns jobcontrol.ErrInvalidState
	// when the job is not in t.From or not held by t.WorkerID, and
	// jobcontrol.ErrJobNotFound when it does not exist.
	UpdateStatus(ctx context.Context, jobID id.JobID, t Transition) error

	// Claim atomically moves the oldest due ready job of q.Type to running
	// and returns it. Returns (nil, nil) when nothing is claimable.
	Claim(ctx context.Context, q ClaimQuery) (*Job, error)

	// RemoveMany deletes the given jobs and returns how many were removed.
	RemoveMany(ctx context.Context, ids []id.JobID) (int64, error)

	// CancelActive moves every non-terminal job of jobType to cancelled.
	CancelActive(ctx context.Context, jobType string) (int64, error)

	// Promote moves pending jobs of jobType whose RunAt is not after now
	// to ready.
	Promote(ctx context.Context, jobType string, now time.Time) (int64, error)

	// Reclaim moves running jobs of jobType whose UpdatedAt is before
	// cutoff back to ready so another worker can take them.
	Reclaim(ctx context.Context, jobType string, cutoff time.Time) (int64, error)
}

// Op is the kind of change a Change reports.
type Op string

const (
	OpInserted Op = "inserted"
	OpUpdated  Op = "updated"
)

// Change is one notification from a Watcher.
type Change struct {
	JobID  id.JobID
	Type   string
	Status Status
	Op     Op
}

// Watcher streams job changes for one type. The channel is closed when ctx
// ends or the underlying feed breaks; callers re-subscribe.
type Watcher interface {
	Watch(ctx context.Context, jobType string) (<-chan Change, error)
}
