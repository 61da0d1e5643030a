// Package store defines the aggregate persistence interface. The job
// package defines the record contract and the change feed; the composite
// Store adds lifecycle. Backends: Postgres, Bun, SQLite, MongoDB, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/xraph/jobcontrol/job"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, bun, sqlite, etc.) implements all of it.
type Store interface {
	job.Store
	job.Watcher

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
