package jobcontrol

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("jobcontrol: no store configured")
	ErrStoreClosed = errors.New("jobcontrol: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("jobcontrol: job not found")
	ErrNoHandler   = errors.New("jobcontrol: no handler registered")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobcontrol: job already exists")

	// State errors.
	ErrInvalidState       = errors.New("jobcontrol: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("jobcontrol: max retries exceeded")

	// Schedule errors.
	ErrInvalidSchedule = errors.New("jobcontrol: invalid recurrence expression")
)
