// Package task is the asynchronous task-scheduling and execution
// engine. It coordinates background work across the system: priority-
// tiered queuing, dependency-gated dispatch, bounded-timeout execution,
// exponential-backoff retry, cooperative cancellation, and worker-pool
// concurrency over the shared backing stores.
package task
