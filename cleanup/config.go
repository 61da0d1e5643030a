package cleanup

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/job"
)

// JobType is the type tag of the cleanup job.
const JobType = "jobControl/removeStaleJobs"

// Defaults for the cleanup job.
const (
	DefaultRetention    = 72 * time.Hour
	DefaultSchedule     = "every day"
	DefaultPollInterval = time.Hour
	DefaultWorkTimeout  = time.Minute
)

// Config controls which jobs the cleanup handler removes and how its
// recurring template is installed.
type Config struct {
	// ExcludeTypes are never removed.
	ExcludeTypes []string `json:"exclude_types" yaml:"exclude_types"`
	// IncludeStatuses are the statuses eligible for removal. All must be
	// terminal.
	IncludeStatuses []job.Status `json:"include_statuses" yaml:"include_statuses"`
	// Retention is how long a job must have been untouched to be removed.
	Retention time.Duration `json:"retention" yaml:"retention"`
	// Exclude is an optional predicate; jobs for which it returns true
	// are kept.
	Exclude func(*job.Job) bool `json:"-" yaml:"-"`

	Schedule     string         `json:"schedule" yaml:"schedule"`
	PollInterval time.Duration  `json:"poll_interval" yaml:"poll_interval"`
	WorkTimeout  time.Duration  `json:"work_timeout" yaml:"work_timeout"`
	Retry        backoff.Config `json:"retry" yaml:"retry"`
}

// DefaultConfig returns the stock cleanup configuration: keep sendEmail
// jobs, remove cancelled, completed and failed jobs untouched for three
// days, once a day.
func DefaultConfig() Config {
	return Config{
		ExcludeTypes: []string{"sendEmail"},
		IncludeStatuses: []job.Status{
			job.StatusCancelled,
			job.StatusCompleted,
			job.StatusFailed,
		},
		Retention:    DefaultRetention,
		Schedule:     DefaultSchedule,
		PollInterval: DefaultPollInterval,
		WorkTimeout:  DefaultWorkTimeout,
		Retry: backoff.Config{
			MaxRetries:   5,
			InitialDelay: time.Minute,
			Kind:         backoff.KindExponential,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return errors.New("cleanup: retention must be positive")
	}
	if len(c.IncludeStatuses) == 0 {
		return errors.New("cleanup: at least one status must be included")
	}
	for _, s := range c.IncludeStatuses {
		if !s.IsTerminal() {
			return fmt.Errorf("cleanup: status %q is not terminal", s)
		}
	}
	if c.Schedule == "" {
		return errors.New("cleanup: schedule is required")
	}
	return c.Retry.Validate()
}
