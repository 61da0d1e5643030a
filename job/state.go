package job

import "fmt"

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job waits for its RunAt.
	StatusPending Status = "pending"
	// StatusReady means the job is due and may be claimed.
	StatusReady Status = "ready"
	// StatusRunning means a worker holds the job.
	StatusRunning Status = "running"
	// StatusCompleted means the handler succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means the job will not be attempted again.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was withdrawn before completion.
	StatusCancelled Status = "cancelled"
)

// transitions lists every allowed move. Terminal statuses have no entry.
var transitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusCancelled},
	StatusReady:   {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusReady, StatusCancelled},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusReady, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// ActiveStatuses returns the non-terminal statuses.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusReady, StatusRunning}
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("job: unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
