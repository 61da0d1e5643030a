package job

import (
	"context"
	"errors"
)

// Result is what a successful handler reports back.
type Result struct {
	Message string
	Data    map[string]any
}

// HandlerFunc processes one claimed job. A nil error marks the job
// completed with the returned Result.
type HandlerFunc func(ctx context.Context, j *Job) (Result, error)

// permanentError marks a handler error as not worth retrying.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor fails the job immediately instead of
// scheduling a retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
