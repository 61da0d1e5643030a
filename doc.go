// Package jobcontrol provides a durable background job queue with scheduled
// recurring execution, retry-with-backoff, and stale-record cleanup.
//
// jobcontrol is a library, not a service. The host process constructs one
// store and one engine, registers handlers as ordinary Go functions, and
// signals readiness once it is able to accept work.
//
// # Quick Start
//
//	c, err := jobcontrol.New(
//	    jobcontrol.WithStore(pgStore),
//	    jobcontrol.WithLogger(logger),
//	)
//	eng, err := engine.Build(c)
//	cleanup.Register(eng, cleanup.DefaultConfig())
//	_ = eng.Start(ctx)
//	_ = eng.Ready(ctx)
//
// # Architecture
//
// Every job type gets its own worker loop. A loop claims ready records on a
// poll interval and whenever the store reports new ready work through a
// change feed. The claim is the only operation that needs a concurrency
// guarantee; each backend implements it atomically (SKIP LOCKED,
// FindOneAndUpdate, a Lua script, or a single-writer UPDATE).
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobcontrol
