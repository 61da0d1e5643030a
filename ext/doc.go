// Package ext defines the extension system for jobcontrol.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, writing audit logs, or alerting.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobInserted]: a job record was created
//   - [JobClaimed]: a worker took the job
//   - [JobCompleted]: the job finished successfully
//   - [JobRetrying]: the job failed but will be retried
//   - [JobFailed]: the job failed with no retries remaining
//   - [JobCancelled]: live jobs of a type were cancelled
//   - [JobsReclaimed]: abandoned running jobs became claimable again
//   - [JobsRemoved]: stale records were deleted
//
// # Other Hooks
//
//   - [RepeatScheduled]: a recurring job got its next occurrence
//   - [Shutdown]: the controller is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt job processing.
package ext
