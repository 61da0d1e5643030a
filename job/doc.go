// Package job defines the job record, its state machine, the handler
// registry, and the store contract every backend implements.
//
// # Job Record
//
// A [Job] carries an opaque Data map, a retry policy, and optional
// recurrence settings. It progresses through:
//
//	pending → ready → running → completed
//	                         → failed
//	                         → ready (retry, or reclaimed after a crash)
//	pending|ready|running → cancelled
//
// Completed, failed and cancelled are terminal.
//
// # Defining a Job
//
// Handlers receive the claimed record. A typed [Definition] decodes Data
// into a payload struct first:
//
//	var SendEmail = job.NewDefinition("sendEmail",
//	    func(ctx context.Context, in EmailInput) (job.Result, error) {
//	        return job.Result{}, mailer.Send(in.To, in.Subject, in.Body)
//	    },
//	)
//
// Return [Permanent] to fail a job without consuming retries.
//
// # Store
//
// [Store] is the persistence contract. Claim is the only operation that
// must be atomic across processes; every status change is a
// compare-and-set [Transition].
package job
