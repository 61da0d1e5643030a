// Package sqlite implements store.Store on SQLite through database/sql and
// the mattn/go-sqlite3 driver. Suitable for embedded deployments, CLI tools
// and tests.
//
// SQLite serialises writers, so Claim is a single UPDATE ... RETURNING and
// needs no row locking. There is no server-side change feed; Watch polls
// through observer.PollingWatcher.
//
// Either hand over an open handle, which the caller keeps owning:
//
//	db, _ := sql.Open("sqlite3", "file:jobs.db?_busy_timeout=5000")
//	store := sqlite.New(db)
//
// or let the store open and own one:
//
//	store, _ := sqlite.Open("jobs.db")
//	defer store.Close()
//	store.Migrate(ctx)
package sqlite
