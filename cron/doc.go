// Package cron provides recurrence for jobs.
//
// A recurring job is an ordinary job record that carries a
// RepeatSchedule and RepeatID. Only one occurrence of a chain exists at a
// time: when it completes, [Scheduler.Successor] inserts the next one.
// Occurrences missed while the process was down are collapsed into a
// single immediate run rather than replayed.
//
// # Expressions
//
// [ParseSchedule] accepts standard 5-field cron ("0 9 * * 1-5"),
// robfig/cron descriptors ("@daily", "@every 30s") and English text:
//
//	every day
//	every 2 hours
//	every weekday at 9:30am
//	every month at 03:00
//
// All schedules are evaluated in UTC.
//
// # Installing
//
// Use engine.InstallRecurring (or engine.RegisterRecurring for a typed
// [Definition]) to create the template occurrence. With CancelRepeats set,
// installing again cancels the previous chain, so the install hook can run
// on every process start.
package cron
