// Package postgres provides PostgreSQL-backed implementations of the
// task and conversation stores. All lifecycle updates are single-statement
// compare-and-swap queries so concurrent engine instances sharing a
// database cannot double-run a task.
package postgres
