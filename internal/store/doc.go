// Package store defines interfaces for the engine's two backing stores:
// the persistent record store for tasks and task results, and the
// volatile queue/cache store used for dispatch and read-through caching.
// These interfaces keep the scheduling logic independent of specific
// database technologies or persistence details.
package store
