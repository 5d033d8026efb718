// Package domain contains the core business entities and value objects of
// the task engine: tasks, their results, retry policies, dependencies, and
// the status state machine. It is independent of any storage or transport.
package domain
