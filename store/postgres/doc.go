// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claim, LISTEN/NOTIFY change feed driven by a row
// trigger, embedded SQL migrations.
package postgres
