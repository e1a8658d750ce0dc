// Package storage persists recipient states: which chats receive the live
// status report and which message currently represents each of them.
//
// Drivers:
//   - sqlite (default): single-file database, embedded migrations
//   - postgres: shared database through a pgx connection pool
//   - file: JSON snapshot plus append-only journal
//   - memory: process-local, used by tests and when storage is disabled
package storage
