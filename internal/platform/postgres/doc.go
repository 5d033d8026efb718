// Package postgres provides PostgreSQL-backed implementations of the
// storage interfaces defined in internal/store: the task and task
// result record stores and the priority-tiered dispatch queue. It
// handles query execution and mapping between domain entities and
// database rows.
package postgres
