// Package persistence selects the durable repository behind the tank store.
//
// Backends:
//   - memory: process local, lost on restart
//   - sqlite: single file database (modernc.org/sqlite, no cgo)
//   - postgres: pgx connection pool
package persistence
