package jobcontrol

import "time"

// Config holds configuration for the Controller. Values here are defaults
// for handlers that are registered without explicit settings.
type Config struct {
	// PollInterval is how often each worker loop polls for ready jobs when
	// no change notification arrives.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// WorkTimeout bounds a single attempt. Running jobs whose UpdatedAt is
	// older than this are presumed abandoned and become claimable again.
	WorkTimeout time.Duration `json:"work_timeout" yaml:"work_timeout"`

	// Concurrency is the number of jobs of one type processed at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// WakeInterval is the minimum spacing between claim passes triggered by
	// change notifications. Bursts inside the window coalesce into one pass.
	WakeInterval time.Duration `json:"wake_interval" yaml:"wake_interval"`

	// ObserverRetry is how long an observer waits before re-subscribing to
	// a broken change feed.
	ObserverRetry time.Duration `json:"observer_retry" yaml:"observer_retry"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    1 * time.Minute,
		WorkTimeout:     1 * time.Minute,
		Concurrency:     1,
		ShutdownTimeout: 30 * time.Second,
		WakeInterval:    100 * time.Millisecond,
		ObserverRetry:   5 * time.Second,
	}
}
