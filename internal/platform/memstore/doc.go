// Package memstore provides in-memory implementations of the volatile
// queue and cache interfaces from internal/store. They back tests and
// single-process deployments; multi-process deployments use the
// database-backed queue from the postgres package instead.
package memstore
