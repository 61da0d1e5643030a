package cron

import "github.com/xraph/jobcontrol/backoff"

// Definition is a typed recurring job template. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the registered job type to run on each occurrence.
	Type string

	// Schedule is a recurrence expression (e.g., "every day" or "0 3 * * *").
	Schedule string

	// Payload is stored as the data of every occurrence.
	Payload T

	// Retry is the policy applied to every occurrence.
	Retry backoff.Config

	// CancelRepeats cancels existing non-terminal jobs of Type on install.
	CancelRepeats bool

	// RunNow fires the first occurrence immediately.
	RunNow bool
}
